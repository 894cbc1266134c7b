package model

import (
	"testing"
	"time"
)

// TestSpaceState_FinalStatesHaveNoTransitions проверяет, что из RELEASED
// и EXPIRED нельзя перейти ни в одно состояние.
func TestSpaceState_FinalStatesHaveNoTransitions(t *testing.T) {
	all := []SpaceState{SpaceReserved, SpaceReleased, SpaceExpired}

	for _, from := range []SpaceState{SpaceReleased, SpaceExpired} {
		if !from.IsFinal() {
			t.Errorf("%s должно быть конечным состоянием", from)
		}
		for _, to := range all {
			if from.CanTransitionTo(to) {
				t.Errorf("%s → %s не должен быть допустим", from, to)
			}
		}
	}
}

func TestSpaceState_ReservedTransitions(t *testing.T) {
	tests := []struct {
		to   SpaceState
		want bool
	}{
		{SpaceReleased, true},
		{SpaceExpired, true},
		{SpaceReserved, false},
	}

	for _, tt := range tests {
		if got := SpaceReserved.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("RESERVED → %s: получено %v, ожидалось %v", tt.to, got, tt.want)
		}
	}
}

// TestFileState_Transitions проверяет матрицу переходов файла.
func TestFileState_Transitions(t *testing.T) {
	tests := []struct {
		from FileState
		to   FileState
		want bool
	}{
		{FileReserved, FileTransferring, true},
		{FileReserved, FileStored, true},
		{FileTransferring, FileStored, true},
		{FileTransferring, FileReserved, true},
		{FileStored, FileFlushed, true},
		{FileStored, FileReserved, false},
		{FileStored, FileTransferring, false},
		{FileFlushed, FileStored, false},
		{FileFlushed, FileReserved, false},
		{FileFlushed, FileTransferring, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s → %s: получено %v, ожидалось %v", tt.from, tt.to, got, tt.want)
		}
	}

	if !FileFlushed.IsFinal() {
		t.Error("FLUSHED должно быть конечным состоянием")
	}
	if !FileReserved.IsPending() || !FileTransferring.IsPending() {
		t.Error("RESERVED и TRANSFERRING должны учитываться как незавершённые")
	}
	if FileStored.IsPending() {
		t.Error("STORED не должен учитываться как незавершённый")
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseSpaceState("RELEASED"); err != nil {
		t.Errorf("ParseSpaceState(RELEASED): неожиданная ошибка: %v", err)
	}
	if _, err := ParseSpaceState("released"); err == nil {
		t.Error("ParseSpaceState(released): ожидалась ошибка")
	}
	if _, err := ParseFileState("FLUSHED"); err != nil {
		t.Errorf("ParseFileState(FLUSHED): неожиданная ошибка: %v", err)
	}
	if _, err := ParseAccessLatency("NEARLINE"); err != nil {
		t.Errorf("ParseAccessLatency(NEARLINE): неожиданная ошибка: %v", err)
	}
	if _, err := ParseAccessLatency("OFFLINE"); err == nil {
		t.Error("ParseAccessLatency(OFFLINE): ожидалась ошибка")
	}
	if _, err := ParseRetentionPolicy("CUSTODIAL"); err != nil {
		t.Errorf("ParseRetentionPolicy(CUSTODIAL): неожиданная ошибка: %v", err)
	}
	if _, err := ParseRetentionPolicy(""); err == nil {
		t.Error("ParseRetentionPolicy(\"\"): ожидалась ошибка")
	}
}

func TestSpace_Expiration(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s := &Space{CreationTime: created, Lifetime: UnboundedLifetime}
	if s.IsExpired(created.Add(100 * 365 * 24 * time.Hour)) {
		t.Error("бессрочное резервирование не должно истекать")
	}

	s.Lifetime = int64(time.Hour / time.Millisecond)
	if s.IsExpired(created.Add(59 * time.Minute)) {
		t.Error("резервирование не должно истечь раньше срока")
	}
	if !s.IsExpired(created.Add(time.Hour)) {
		t.Error("резервирование должно истечь ровно по сроку")
	}
}

func TestLinkGroup_Allows(t *testing.T) {
	lg := &LinkGroup{NearlineAllowed: true, CustodialAllowed: true}

	if !lg.Allows(Nearline, Custodial) {
		t.Error("NEARLINE/CUSTODIAL должно быть разрешено")
	}
	if lg.Allows(Online, Custodial) {
		t.Error("ONLINE/CUSTODIAL не должно быть разрешено")
	}
	if lg.Allows(Nearline, Replica) {
		t.Error("NEARLINE/REPLICA не должно быть разрешено")
	}
}

func TestVOInfo_Matches(t *testing.T) {
	tests := []struct {
		entry       VOInfo
		group, role string
		want        bool
	}{
		{VOInfo{"/atlas", "production"}, "/atlas", "production", true},
		{VOInfo{"/atlas", "*"}, "/atlas", "", true},
		{VOInfo{"*", "*"}, "/cms", "admin", true},
		{VOInfo{"*", "production"}, "/cms", "admin", false},
		{VOInfo{"/atlas", ""}, "/atlas", "production", false},
	}

	for _, tt := range tests {
		if got := tt.entry.Matches(tt.group, tt.role); got != tt.want {
			t.Errorf("%v.Matches(%q, %q) = %v, ожидалось %v", tt.entry, tt.group, tt.role, got, tt.want)
		}
	}
}

func TestParseFQAN(t *testing.T) {
	tests := []struct {
		fqan string
		want VOInfo
	}{
		{"/atlas", VOInfo{"/atlas", ""}},
		{"/atlas/Role=production", VOInfo{"/atlas", "production"}},
		{"/atlas/higgs/Role=NULL/Capability=NULL", VOInfo{"/atlas/higgs", ""}},
	}

	for _, tt := range tests {
		if got := ParseFQAN(tt.fqan); got != tt.want {
			t.Errorf("ParseFQAN(%q) = %+v, ожидалось %+v", tt.fqan, got, tt.want)
		}
	}
}

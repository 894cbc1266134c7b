package model

import (
	"strings"
	"time"
)

// Wildcard — значение группы или роли VO, совпадающее с любым.
const Wildcard = "*"

// VOInfo — пара (группа, роль), идентифицирующая VO запрашивающего.
type VOInfo struct {
	Group string `json:"group"`
	Role  string `json:"role"`
}

// Matches проверяет, разрешает ли запись VO (возможно с wildcard)
// доступ субъекту с группой group и ролью role.
func (v VOInfo) Matches(group, role string) bool {
	return matchPart(v.Group, group) && matchPart(v.Role, role)
}

func matchPart(pattern, value string) bool {
	return pattern == Wildcard || pattern == value
}

// String возвращает FQAN-представление: /group/Role=role.
func (v VOInfo) String() string {
	if v.Role == "" {
		return v.Group
	}
	return v.Group + "/Role=" + v.Role
}

// ParseFQAN разбирает FQAN вида "/atlas/higgs/Role=production".
// Роль "NULL" трактуется как отсутствующая.
func ParseFQAN(fqan string) VOInfo {
	group, role := fqan, ""
	if i := strings.Index(fqan, "/Role="); i >= 0 {
		group = fqan[:i]
		role = fqan[i+len("/Role="):]
		if j := strings.Index(role, "/"); j >= 0 {
			role = role[:j]
		}
	}
	if role == "NULL" {
		role = ""
	}
	return VOInfo{Group: group, Role: role}
}

// LinkGroup — пул ёмкости, из которого выделяются резервирования.
// Хранится в таблицах link_groups и link_group_vos.
type LinkGroup struct {
	// ID — идентификатор пула
	ID int64
	// Name — имя пула (ключ при обновлении из внешнего источника)
	Name string
	// FreeBytes — свободная физическая ёмкость по данным последнего обновления
	FreeBytes int64
	// ReservedBytes — сумма (size - used) по всем неконечным резервированиям пула
	ReservedBytes int64
	// Разрешённые политики
	OnlineAllowed    bool
	NearlineAllowed  bool
	ReplicaAllowed   bool
	OutputAllowed    bool
	CustodialAllowed bool
	// VOs — авторизованные VO (группа и роль могут быть "*")
	VOs []VOInfo
	// LastUpdateTime — время последнего обновления ёмкости
	LastUpdateTime time.Time
}

// AvailableBytes возвращает ёмкость, доступную для новых резервирований.
func (lg *LinkGroup) AvailableBytes() int64 {
	return lg.FreeBytes - lg.ReservedBytes
}

// Allows проверяет, допускает ли пул комбинацию access latency и retention policy.
func (lg *LinkGroup) Allows(al AccessLatency, rp RetentionPolicy) bool {
	latencyOK := (al == Online && lg.OnlineAllowed) || (al == Nearline && lg.NearlineAllowed)
	if !latencyOK {
		return false
	}
	switch rp {
	case Replica:
		return lg.ReplicaAllowed
	case Output:
		return lg.OutputAllowed
	case Custodial:
		return lg.CustodialAllowed
	default:
		return false
	}
}

// Clone возвращает независимую копию.
func (lg *LinkGroup) Clone() *LinkGroup {
	c := *lg
	c.VOs = append([]VOInfo(nil), lg.VOs...)
	return &c
}

// Subject — аутентифицированный запрашивающий.
type Subject struct {
	// Name — имя пользователя (sub или preferred_username)
	Name string
	// FQANs — VO-атрибуты субъекта, первый — основной
	FQANs []VOInfo
}

// PrimaryFQAN возвращает основной VO-атрибут субъекта.
func (s *Subject) PrimaryFQAN() (VOInfo, bool) {
	if s == nil || len(s.FQANs) == 0 {
		return VOInfo{}, false
	}
	return s.FQANs[0], true
}

// AnonymousSubject — субъект запросов без аутентификации.
var AnonymousSubject = &Subject{Name: "anonymous"}

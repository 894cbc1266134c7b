// Пакет model — доменные сущности Space Manager: резервирования (Space),
// файлы, привязанные к резервированиям (File), и пулы ёмкости (LinkGroup).
//
// Состояния резервирований и файлов — закрытые перечисления с явной
// матрицей допустимых переходов.
package model

import "fmt"

// SpaceState — состояние резервирования.
type SpaceState string

const (
	// SpaceReserved — начальное состояние, резервирование активно
	SpaceReserved SpaceState = "RESERVED"
	// SpaceReleased — резервирование освобождено клиентом (конечное)
	SpaceReleased SpaceState = "RELEASED"
	// SpaceExpired — истёк срок жизни резервирования (конечное)
	SpaceExpired SpaceState = "EXPIRED"
)

// validSpaceTransitions — матрица допустимых переходов резервирования.
// Из конечных состояний переходов нет.
var validSpaceTransitions = map[SpaceState]map[SpaceState]bool{
	SpaceReserved: {SpaceReleased: true, SpaceExpired: true},
	SpaceReleased: {},
	SpaceExpired:  {},
}

// IsFinal возвращает true для конечных состояний (RELEASED, EXPIRED).
func (s SpaceState) IsFinal() bool {
	return s == SpaceReleased || s == SpaceExpired
}

// CanTransitionTo проверяет, допустим ли переход в target.
func (s SpaceState) CanTransitionTo(target SpaceState) bool {
	return validSpaceTransitions[s][target]
}

// ParseSpaceState преобразует строку в SpaceState.
func ParseSpaceState(s string) (SpaceState, error) {
	st := SpaceState(s)
	if _, ok := validSpaceTransitions[st]; !ok {
		return "", fmt.Errorf("недопустимое состояние резервирования: %q, допустимые: RESERVED, RELEASED, EXPIRED", s)
	}
	return st, nil
}

// FileState — состояние файла, привязанного к резервированию.
type FileState string

const (
	// FileReserved — место под файл зарезервировано, запись не начата
	FileReserved FileState = "RESERVED"
	// FileTransferring — идёт запись данных
	FileTransferring FileState = "TRANSFERRING"
	// FileStored — файл записан на пул
	FileStored FileState = "STORED"
	// FileFlushed — файл скопирован на долговременное хранилище (конечное)
	FileFlushed FileState = "FLUSHED"
)

// validFileTransitions — матрица допустимых переходов файла.
// Допустимы все переходы вперёд по цепочке RESERVED → TRANSFERRING → STORED → FLUSHED.
// Откат TRANSFERRING → RESERVED используется при неудачной записи
// (идентификатор в namespace сбрасывается, запись можно повторить).
var validFileTransitions = map[FileState]map[FileState]bool{
	FileReserved:     {FileTransferring: true, FileStored: true, FileFlushed: true},
	FileTransferring: {FileStored: true, FileFlushed: true, FileReserved: true},
	FileStored:       {FileFlushed: true},
	FileFlushed:      {},
}

// IsFinal возвращает true для FLUSHED.
func (s FileState) IsFinal() bool {
	return s == FileFlushed
}

// IsPending возвращает true, пока данные файла ещё не записаны
// (RESERVED или TRANSFERRING). Такие файлы учитываются в allocated.
func (s FileState) IsPending() bool {
	return s == FileReserved || s == FileTransferring
}

// CanTransitionTo проверяет, допустим ли переход в target.
func (s FileState) CanTransitionTo(target FileState) bool {
	return validFileTransitions[s][target]
}

// ParseFileState преобразует строку в FileState.
func ParseFileState(s string) (FileState, error) {
	st := FileState(s)
	if _, ok := validFileTransitions[st]; !ok {
		return "", fmt.Errorf("недопустимое состояние файла: %q, допустимые: RESERVED, TRANSFERRING, STORED, FLUSHED", s)
	}
	return st, nil
}

// AccessLatency — требуемая задержка доступа к данным.
type AccessLatency string

const (
	Online   AccessLatency = "ONLINE"
	Nearline AccessLatency = "NEARLINE"
)

// ParseAccessLatency преобразует строку в AccessLatency.
func ParseAccessLatency(s string) (AccessLatency, error) {
	switch al := AccessLatency(s); al {
	case Online, Nearline:
		return al, nil
	default:
		return "", fmt.Errorf("недопустимая access latency: %q, допустимые: ONLINE, NEARLINE", s)
	}
}

// RetentionPolicy — класс надёжности хранения.
type RetentionPolicy string

const (
	Replica   RetentionPolicy = "REPLICA"
	Output    RetentionPolicy = "OUTPUT"
	Custodial RetentionPolicy = "CUSTODIAL"
)

// ParseRetentionPolicy преобразует строку в RetentionPolicy.
func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	switch rp := RetentionPolicy(s); rp {
	case Replica, Output, Custodial:
		return rp, nil
	default:
		return "", fmt.Errorf("недопустимая retention policy: %q, допустимые: REPLICA, OUTPUT, CUSTODIAL", s)
	}
}

package model

import "time"

// File — файл, записываемый в счёт резервирования.
// Хранится в таблице files.
type File struct {
	// ID — идентификатор записи (выдаётся аллокатором токенов)
	ID int64
	// VoGroup — группа владельца
	VoGroup string
	// VoRole — роль владельца
	VoRole string
	// SpaceID — резервирование, к которому привязан файл
	SpaceID int64
	// SizeInBytes — ожидаемый (или фактический после записи) размер
	SizeInBytes int64
	// CreationTime — время создания записи
	CreationTime time.Time
	// Lifetime — срок жизни в миллисекундах, -1 — без ограничения
	Lifetime int64
	// Path — путь в namespace (nil для анонимных привязок)
	Path *string
	// NamespaceID — идентификатор файла в namespace, известен с начала записи
	NamespaceID *string
	// State — RESERVED, TRANSFERRING, STORED, FLUSHED
	State FileState
	// Deleted — запись в namespace удалена, пока файл ещё не был записан
	Deleted bool
}

// IsAnonymous возвращает true для привязок без пути
// (неявное резервирование, созданное только под одну запись).
func (f *File) IsAnonymous() bool {
	return f.Path == nil
}

// ExpirationTime возвращает момент истечения срока жизни записи.
func (f *File) ExpirationTime() (time.Time, bool) {
	return expiration(f.CreationTime, f.Lifetime)
}

// IsExpired проверяет, истёк ли срок жизни записи к моменту now.
func (f *File) IsExpired(now time.Time) bool {
	exp, ok := f.ExpirationTime()
	return ok && !exp.After(now)
}

// Clone возвращает независимую копию.
func (f *File) Clone() *File {
	c := *f
	if f.Path != nil {
		p := *f.Path
		c.Path = &p
	}
	if f.NamespaceID != nil {
		id := *f.NamespaceID
		c.NamespaceID = &id
	}
	return &c
}

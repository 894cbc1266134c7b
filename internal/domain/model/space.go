package model

import "time"

// UnboundedLifetime — срок жизни без ограничения.
const UnboundedLifetime int64 = -1

// Space — резервирование ёмкости в одной LinkGroup.
// Хранится в таблице spaces.
type Space struct {
	// ID — токен резервирования
	ID int64
	// VoGroup — группа владельца (может быть пустой или "*")
	VoGroup string
	// VoRole — роль владельца (может быть пустой или "*")
	VoRole string
	// RetentionPolicy — REPLICA, OUTPUT, CUSTODIAL
	RetentionPolicy RetentionPolicy
	// AccessLatency — ONLINE, NEARLINE
	AccessLatency AccessLatency
	// LinkGroupID — пул ёмкости, в котором размещено резервирование
	LinkGroupID int64
	// SizeInBytes — размер резервирования
	SizeInBytes int64
	// UsedSizeInBytes — байты файлов в состоянии STORED
	UsedSizeInBytes int64
	// AllocatedSpaceInBytes — байты файлов в состояниях RESERVED и TRANSFERRING
	AllocatedSpaceInBytes int64
	// CreationTime — время создания
	CreationTime time.Time
	// Lifetime — срок жизни в миллисекундах, -1 — без ограничения
	Lifetime int64
	// Description — описание (используется клиентами для поиска токена)
	Description *string
	// State — RESERVED, RELEASED, EXPIRED
	State SpaceState
}

// AvailableSpaceInBytes возвращает незанятую часть резервирования.
func (s *Space) AvailableSpaceInBytes() int64 {
	return s.SizeInBytes - s.UsedSizeInBytes - s.AllocatedSpaceInBytes
}

// ExpirationTime возвращает момент истечения срока жизни.
// ok == false для бессрочных резервирований.
func (s *Space) ExpirationTime() (t time.Time, ok bool) {
	return expiration(s.CreationTime, s.Lifetime)
}

// IsExpired проверяет, истёк ли срок жизни к моменту now.
func (s *Space) IsExpired(now time.Time) bool {
	exp, ok := s.ExpirationTime()
	return ok && !exp.After(now)
}

// Clone возвращает независимую копию.
func (s *Space) Clone() *Space {
	c := *s
	if s.Description != nil {
		d := *s.Description
		c.Description = &d
	}
	return &c
}

// expiration вычисляет creation + lifetime для срока в миллисекундах.
func expiration(creation time.Time, lifetime int64) (time.Time, bool) {
	if lifetime == UnboundedLifetime {
		return time.Time{}, false
	}
	return creation.Add(time.Duration(lifetime) * time.Millisecond), true
}

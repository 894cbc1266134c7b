// Пакет authz — проверка прав запрашивающего на резервирование в link group
// и на изменение резервирования.
// Решения по link group кэшируются в LRU-кэше с TTL (hashicorp/golang-lru/v2/expirable):
// список VO link group меняется только при обновлении ёмкости.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

// Prometheus-метрики кэша решений.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_authz_cache_hits_total",
		Help: "Общее количество попаданий в кэш решений авторизации.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_authz_cache_misses_total",
		Help: "Общее количество промахов кэша решений авторизации.",
	})
)

// Значения по умолчанию для кэша.
const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = time.Minute
)

// decision — закэшированный результат проверки права резервирования.
type decision struct {
	vo      model.VOInfo
	allowed bool
}

// Authorizer проверяет права по спискам VO link groups и владельцу резервирования.
type Authorizer struct {
	cache  *expirable.LRU[string, decision]
	logger *slog.Logger
}

// New создаёт Authorizer. size <= 0 и ttl <= 0 заменяются значениями по умолчанию.
func New(size int, ttl time.Duration, logger *slog.Logger) *Authorizer {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Authorizer{
		cache:  expirable.NewLRU[string, decision](size, nil, ttl),
		logger: logger.With(slog.String("component", "authz")),
	}
}

// CheckReservePermission возвращает первый FQAN субъекта, разрешённый списком
// VO link group. Субъект без FQAN проверяется по имени как по группе.
func (a *Authorizer) CheckReservePermission(_ context.Context, subject *model.Subject, lg *model.LinkGroup) (model.VOInfo, error) {
	key := cacheKey(subject, lg)
	d, ok := a.cache.Get(key)
	if ok {
		cacheHitsTotal.Inc()
	} else {
		cacheMissesTotal.Inc()
		d = decide(subject, lg)
		a.cache.Add(key, d)
	}

	if !d.allowed {
		a.logger.Debug("Резервирование в link group запрещено",
			slog.String("subject", subjectName(subject)),
			slog.String("link_group", lg.Name),
		)
		return model.VOInfo{}, fmt.Errorf("%w: %s не авторизован в link group %s",
			service.ErrAuthorization, subjectName(subject), lg.Name)
	}
	return d.vo, nil
}

// CheckReleasePermission разрешает изменение резервирования владельцу: субъекту
// с FQAN группы (и роли, если она указана) резервирования, либо субъекту,
// чьё имя совпадает с группой. Резервирования без владельца доступны всем.
func (a *Authorizer) CheckReleasePermission(_ context.Context, subject *model.Subject, space *model.Space) error {
	if space.VoGroup == "" || space.VoGroup == model.Wildcard {
		return nil
	}
	owner := model.VOInfo{Group: space.VoGroup, Role: space.VoRole}
	if owner.Role == "" {
		owner.Role = model.Wildcard
	}
	for _, fqan := range identities(subject) {
		if owner.Matches(fqan.Group, fqan.Role) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s не владелец резервирования %d (%s)",
		service.ErrAuthorization, subjectName(subject), space.ID, owner.String())
}

// Purge очищает кэш решений (после обновления списков VO).
func (a *Authorizer) Purge() {
	a.cache.Purge()
}

func decide(subject *model.Subject, lg *model.LinkGroup) decision {
	for _, fqan := range identities(subject) {
		for _, vo := range lg.VOs {
			if vo.Matches(fqan.Group, fqan.Role) {
				return decision{vo: fqan, allowed: true}
			}
		}
	}
	return decision{}
}

// identities — FQAN субъекта, либо его имя как группа без роли.
func identities(subject *model.Subject) []model.VOInfo {
	if subject == nil {
		return nil
	}
	if len(subject.FQANs) > 0 {
		return subject.FQANs
	}
	if subject.Name == "" {
		return nil
	}
	return []model.VOInfo{{Group: subject.Name}}
}

func subjectName(subject *model.Subject) string {
	if subject == nil {
		return model.AnonymousSubject.Name
	}
	return subject.Name
}

// cacheKey включает состав VO link group: обновление списка даёт новый ключ.
func cacheKey(subject *model.Subject, lg *model.LinkGroup) string {
	var b strings.Builder
	b.WriteString(subjectName(subject))
	for _, fqan := range identities(subject) {
		b.WriteByte('|')
		b.WriteString(fqan.String())
	}
	b.WriteString("#")
	b.WriteString(strconv.FormatInt(lg.ID, 10))
	for _, vo := range lg.VOs {
		b.WriteByte('|')
		b.WriteString(vo.String())
	}
	return b.String()
}

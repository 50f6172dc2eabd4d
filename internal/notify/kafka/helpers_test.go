package kafka

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Proximyst/ban/internal/notify"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/pkg/domain"
)

func notifyEvent(t *testing.T) notify.Event {
	t.Helper()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := models.New(models.TypeBan, models.IPTarget(netip.MustParseAddr("203.0.113.7")),
		domain.ActorConsole, "alt account", issued, nil)
	require.NoError(t, err)
	p.ID = 42
	return notify.NewEvent(notify.KindCreated, p, issued)
}

package logging

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug should be filtered at INFO")

	logger.Info("info message")
	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "info message")
}

func TestLogger_WithComponentAndTrace(t *testing.T) {
	var buf bytes.Buffer
	base := New()
	base.SetOutput(&buf)

	base.WithComponent("claims").WithTraceID("abc123").Info("hello")

	out := buf.String()
	assert.Contains(t, out, "[claims] hello")
	assert.Contains(t, out, "trace=abc123")
}

func TestLogger_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("x", map[string]interface{}{"zeta": 1, "alpha": "a", "mid": true})

	assert.Contains(t, buf.String(), " alpha=a mid=true zeta=1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("loud"))
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere visible.
	Nop().Error("ignored")
}

func TestLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	exp := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	logger.ClaimAcquired("t1", "p1", exp)
	logger.ClaimRejected("t1", "p2", "CLAIM_CONFLICT")
	logger.Transitioned("order", "t1", "accept", "Claimed", "Accepted", "p1")
	logger.TransitionRejected("order", "t1", "start", "p2", fmt.Errorf("not owner"))
	logger.SideEffectFailed("notify", "t1", fmt.Errorf("broker down"))
	logger.StoreFailure("postgres", "update", fmt.Errorf("conn reset"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 6)
	assert.Contains(t, lines[0], "claim_acquired expires_at=2025-03-01T12:00:00Z provider=p1 task=t1")
	assert.Contains(t, lines[1], "code=CLAIM_CONFLICT")
	assert.Contains(t, lines[2], "action=accept actor=p1 from=Claimed id=t1 kind=order to=Accepted")
	assert.Contains(t, lines[3], "DEBUG")
	assert.Contains(t, lines[4], "WARN")
	assert.Contains(t, lines[5], "ERROR")
}

func TestLogger_ConcurrentDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := New()
	base.SetOutput(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			base.WithComponent(fmt.Sprintf("c%d", i)).Info("line")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "\n"))
}

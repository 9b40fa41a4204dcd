package obslog_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veldframework/veld/internal/obslog"
)

func TestNew_PrependsComponentAndLayerFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := obslog.New(obslog.Options{
		Writer:    buf,
		Level:     "info",
		Component: "resolver",
		Layer:     "boot",
	})
	require.NoError(t, err)

	logger.Info("graph built", "components", 3)

	out := buf.String()
	require.Contains(t, out, "graph built")
	require.Contains(t, out, "component=resolver")
	require.Contains(t, out, "layer=boot")
	require.Contains(t, out, "components=3")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := obslog.New(obslog.Options{Level: "not-a-level"})
	require.Error(t, err)
}

func TestLogger_DebugIsSuppressedBelowInfoLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := obslog.New(obslog.Options{Writer: buf, Level: "info"})
	require.NoError(t, err)

	logger.Debug("should not appear")
	require.Empty(t, buf.String())
}

func TestLogger_WithAddsFieldsWithoutMutatingParent(t *testing.T) {
	buf := &bytes.Buffer{}
	parent, err := obslog.New(obslog.Options{Writer: buf, Level: "info", Component: "container"})
	require.NoError(t, err)

	child := parent.With("request_id", "req-1")
	child.Info("resolved")
	parent.Info("unrelated")

	out := buf.String()
	require.Contains(t, out, "request_id=req-1")

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 2)
	require.NotContains(t, string(lines[1]), "request_id")
}

func TestLogger_WithLaterKeyWinsOverDuplicate(t *testing.T) {
	buf := &bytes.Buffer{}
	base, err := obslog.New(obslog.Options{Writer: buf, Level: "info", Component: "first"})
	require.NoError(t, err)

	derived := base.With("component", "second")
	derived.Info("hello")

	out := buf.String()
	require.Contains(t, out, "component=second")
	require.NotContains(t, out, "component=first")
}

func TestLogger_NilLoggerSwallowsLogCallsWithoutPanic(t *testing.T) {
	var l *obslog.Logger
	require.NotPanics(t, func() {
		l.Info("noop")
		l.Error("still noop")
	})
}

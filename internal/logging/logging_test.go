package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestBackend_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	b := NewWriter(&buf, logging.NOTICE)
	log := b.GetLogger("hub")
	log.Debugf("hidden %d", 1)
	log.Noticef("joined %s", "abc12345")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "NOTI hub: joined abc12345")
	require.Equal(t, 1, strings.Count(out, "\n"))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]logging.Level{
		"debug":   logging.DEBUG,
		"INFO":    logging.INFO,
		"":        logging.NOTICE,
		"warn":    logging.WARNING,
		" error ": logging.ERROR,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

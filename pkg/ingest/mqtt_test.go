package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/config"
)

func TestDecodeReports(t *testing.T) {
	single, err := decodeReports([]byte(`{"tag_mac":"aa","timestamp":"1"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "aa", single[0].TagMAC)

	many, err := decodeReports([]byte("  [{\"tag_mac\":\"aa\"},{\"tag_mac\":\"bb\",\"timestamp\":2}]\n"))
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Equal(t, "2", string(many[1].Timestamp))

	_, err = decodeReports([]byte("not json"))
	assert.Error(t, err)
}

func TestMQTTSubscriber_HandleFeedsPipeline(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa")
	sub := NewMQTTSubscriber(config.MQTTConfig{Topic: "t"}, h.pipeline)

	sub.handle(context.Background(), []byte(`[{"tag_mac":"AA","timestamp":"1"}]`))
	sub.handle(context.Background(), []byte(`garbage`))

	ids, err := h.state.ActiveDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"aa"}, ids)
}

package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	channels := []string{"205", "206"}

	tests := []struct {
		name string
		op   Operation
		want string
	}{
		{"identify", OpIdentify, "*IDN?"},
		{"reset", OpReset, "*RST"},
		{"clear", OpClear, "*CLS"},
		{"configure rtd", OpConfigureRTD, "CONF:TEMP FRTD, 85, (@205,206)"},
		{"reference", OpRTDReference, "TEMP:TRAN:FRTD:RES:REF 100, (@205,206)"},
		{"rtd type", OpRTDType, "TEMP:TRAN:FRTD:TYPE 85, (@205,206)"},
		{"scan list", OpScanList, "ROUT:SCAN (@205,206)"},
		{"initiate", OpInitiate, "INIT"},
		{"fetch", OpFetch, "FETC?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.op, channels)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeRejectsUnknownOperation(t *testing.T) {
	_, err := Encode(Operation(99), nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestEncodeChannelScopedRequiresChannels(t *testing.T) {
	_, err := Encode(OpScanList, nil)
	assert.ErrorIs(t, err, ErrInvalidChannels)
}

func TestValidateChannels(t *testing.T) {
	assert.NoError(t, ValidateChannels([]string{"101", "205", "322"}))
	assert.ErrorIs(t, ValidateChannels(nil), ErrInvalidChannels)
	assert.ErrorIs(t, ValidateChannels([]string{"20"}), ErrInvalidChannels)
	assert.ErrorIs(t, ValidateChannels([]string{"2a5"}), ErrInvalidChannels)
	assert.ErrorIs(t, ValidateChannels([]string{"205", "205"}), ErrInvalidChannels)
}

func TestConfigureSequence(t *testing.T) {
	seq, err := ConfigureSequence([]string{"205"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"*CLS",
		"CONF:TEMP FRTD, 85, (@205)",
		"TEMP:TRAN:FRTD:RES:REF 100, (@205)",
		"TEMP:TRAN:FRTD:TYPE 85, (@205)",
		"ROUT:SCAN (@205)",
	}, seq)
}

func TestParseChannelListRoundTrip(t *testing.T) {
	list, err := ChannelList([]string{"205", "206", "207"})
	require.NoError(t, err)

	channels, err := ParseChannelList(list)
	require.NoError(t, err)
	assert.Equal(t, []string{"205", "206", "207"}, channels)

	_, err = ParseChannelList("205,206")
	assert.ErrorIs(t, err, ErrInvalidChannels)
}

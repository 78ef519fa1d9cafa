package instrument

import (
	"fmt"
	"strings"
)

// Operation identifies one SCPI command understood by the 34970A.
type Operation int

const (
	OpIdentify Operation = iota
	OpReset
	OpClear
	OpConfigureRTD
	OpRTDReference
	OpRTDType
	OpScanList
	OpInitiate
	OpFetch
)

type command struct {
	format   string
	channels bool
}

// 4-wire PT100: alpha 0.00385 ("85"), 100 ohm reference.
var commandTable = map[Operation]command{
	OpIdentify:     {format: "*IDN?"},
	OpReset:        {format: "*RST"},
	OpClear:        {format: "*CLS"},
	OpConfigureRTD: {format: "CONF:TEMP FRTD, 85, %s", channels: true},
	OpRTDReference: {format: "TEMP:TRAN:FRTD:RES:REF 100, %s", channels: true},
	OpRTDType:      {format: "TEMP:TRAN:FRTD:TYPE 85, %s", channels: true},
	OpScanList:     {format: "ROUT:SCAN %s", channels: true},
	OpInitiate:     {format: "INIT"},
	OpFetch:        {format: "FETC?"},
}

// Encode renders the command for op. Channel-scoped operations require a valid channel set.
func Encode(op Operation, channels []string) (string, error) {
	cmd, ok := commandTable[op]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownOperation, op)
	}
	if !cmd.channels {
		return cmd.format, nil
	}
	list, err := ChannelList(channels)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(cmd.format, list), nil
}

// ConfigureSequence is everything sent after *RST to arm an RTD scan.
func ConfigureSequence(channels []string) ([]string, error) {
	ops := []Operation{OpClear, OpConfigureRTD, OpRTDReference, OpRTDType, OpScanList}
	commands := make([]string, 0, len(ops))
	for _, op := range ops {
		cmd, err := Encode(op, channels)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// ChannelList formats channels as an SCPI channel list, e.g. "(@205,206)".
func ChannelList(channels []string) (string, error) {
	if err := ValidateChannels(channels); err != nil {
		return "", err
	}
	return "(@" + strings.Join(channels, ",") + ")", nil
}

// ParseChannelList is the inverse of ChannelList.
func ParseChannelList(list string) ([]string, error) {
	trimmed := strings.TrimSpace(list)
	if !strings.HasPrefix(trimmed, "(@") || !strings.HasSuffix(trimmed, ")") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannels, list)
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "(@"), ")")
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if err := ValidateChannels(parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// ValidateChannels accepts slot/channel ids such as "205": three digits, no duplicates.
func ValidateChannels(channels []string) error {
	if len(channels) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidChannels)
	}
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if len(ch) != 3 || strings.Trim(ch, "0123456789") != "" {
			return fmt.Errorf("%w: %q", ErrInvalidChannels, ch)
		}
		if _, dup := seen[ch]; dup {
			return fmt.Errorf("%w: duplicate %q", ErrInvalidChannels, ch)
		}
		seen[ch] = struct{}{}
	}
	return nil
}

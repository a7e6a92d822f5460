package sphinxcore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/betanet/relay/relayerrs"
)

func TestProcessRejectsShortPacket(t *testing.T) {
	p := &Processor{}

	_, err := p.Process([]byte{0x01, 0x02, 0x03}, nil)
	require.Error(t, err)

	var dropErr *relayerrs.DropError
	require.ErrorAs(t, err, &dropErr)
	require.Equal(t, relayerrs.ReasonMalformed, dropErr.Reason)
}

func TestProcessRejectsUnsupportedVersion(t *testing.T) {
	p := &Processor{}

	packet := make([]byte, minHeaderSize)
	packet[0] = MaxSupportedVersion + 1

	_, err := p.Process(packet, nil)
	require.Error(t, err)

	var dropErr *relayerrs.DropError
	require.ErrorAs(t, err, &dropErr)
	require.Equal(t, relayerrs.ReasonMalformed, dropErr.Reason)
}

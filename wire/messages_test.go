package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/crypto"
)

func sampleTx(t *testing.T) *core.Transaction {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx := core.NewTransaction(pub.Hex(), "deadbeef", 12345, 10, 3)
	tx.Sign(priv)
	return tx
}

func sampleBlock(t *testing.T) *core.Block {
	t.Helper()
	cb := core.NewCoinbase("miner-addr", 42, 100)
	b := core.NewBlock(100, crypto.Hash([]byte("parent")), "miner-addr",
		1_700_000_000, core.PowLimitBits, []*core.Transaction{cb, sampleTx(t)})
	b.Seal()
	return b
}

// Encoding then decoding any wire message reproduces it bit-for-bit.
func TestMessageRoundTrips(t *testing.T) {
	b := sampleBlock(t)
	tx := sampleTx(t)
	ann := &BlockAnnounce{Header: b.Header, Hash: b.Hash}
	for _, btx := range b.Txs {
		ann.ShortIDs = append(ann.ShortIDs, ShortID(btx.ID))
	}

	msgs := []Message{
		ann,
		&BlockFetchRequest{Hash: b.Hash},
		&BlockResponse{Block: b},
		&TxAnnounce{Tx: tx},
		&TxFetchRequest{TxID: tx.ID},
		&Ping{Nonce: 7},
		&Pong{Nonce: 7, TipHeight: 100, TipHash: b.Hash},
		&RangeRequest{FromHeight: 10, ToHeight: 20},
		&RangeResponse{Blocks: []*core.Block{b}},
	}
	for _, m := range msgs {
		payload, err := EncodeMessage(m)
		require.NoError(t, err, "%T", m)
		require.Equal(t, m.MsgType(), payload[0])

		got, err := DecodeMessage(payload)
		require.NoError(t, err, "%T", m)
		require.Equal(t, m, got, "%T", m)

		again, err := EncodeMessage(got)
		require.NoError(t, err)
		require.Equal(t, payload, again, "%T must re-encode bit-for-bit", m)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := DecodeMessage([]byte{0x7f, 0x00})
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	payload, err := EncodeMessage(&Ping{Nonce: 1})
	require.NoError(t, err)
	_, err = DecodeMessage(append(payload, 0xff))
	require.ErrorIs(t, err, ErrTrailingBytes)
}

func TestDecodeRejectsTruncation(t *testing.T) {
	payload, err := EncodeMessage(&BlockResponse{Block: sampleBlock(t)})
	require.NoError(t, err)
	_, err = DecodeMessage(payload[:len(payload)/2])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestShortIDPrefix(t *testing.T) {
	id := crypto.Hash([]byte("tx"))
	short := ShortID(id)
	raw, err := crypto.FingerprintToBytes(id)
	require.NoError(t, err)
	require.Equal(t, raw[:ShortIDLen], short[:])
}

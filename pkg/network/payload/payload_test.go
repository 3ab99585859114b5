package payload

import (
	"testing"

	"github.com/stretchr/testify/require"

	bio "github.com/meridianchain/meridian-go/pkg/io"
)

// roundTrip encodes with enc, decodes the bytes with dec, asserts that
// neither step reported an error, and returns the encoded bytes. Callers
// compare the decoded value with the original themselves.
func roundTrip(t *testing.T, enc func(bio.BinaryWriter), dec func(bio.BinaryReader)) []byte {
	t.Helper()
	w := bio.NewBufBinWriter()
	enc(w)
	require.NoError(t, w.Error())
	data := w.Bytes()

	r := bio.NewBinReaderFromBuf(data)
	dec(r)
	require.NoError(t, r.Err)
	return data
}

func TestVersionRoundTrip(t *testing.T) {
	p := NewVersion(2, "/meridian:0.1/", 1, 1700000000)
	pd := &Version{}
	roundTrip(t, p.EncodeBinary, pd.DecodeBinary)
	require.Equal(t, p, pd)
}

func TestPeerIDRoundTrip(t *testing.T) {
	p := &PeerID{}
	for i := range p.ID {
		p.ID[i] = byte(i)
	}
	pd := &PeerID{}
	roundTrip(t, p.EncodeBinary, pd.DecodeBinary)
	require.Equal(t, p, pd)
}

func TestVerificationCodesRoundTrip(t *testing.T) {
	p := &VerificationCodes{}
	p.Send[0] = 1
	p.Expect[0] = 2
	pd := &VerificationCodes{}
	roundTrip(t, p.EncodeBinary, pd.DecodeBinary)
	require.Equal(t, p, pd)
}

func TestPeersRoundTrip(t *testing.T) {
	p := &Peers{Addresses: []AddressV1{{IPv4: [4]byte{127, 0, 0, 1}}, {IPv4: [4]byte{1, 2, 3, 4}}}}
	pd := &Peers{}
	roundTrip(t, p.EncodeBinary, pd.DecodeBinary)
	require.Equal(t, p, pd)
}

func TestPeersV2RoundTrip(t *testing.T) {
	p := &PeersV2{Addresses: []AddressV2{{Host: "example.org", Port: 9333}, {Host: "::1", Port: 1}}}
	pd := &PeersV2{}
	roundTrip(t, p.EncodeBinary, pd.DecodeBinary)
	require.Equal(t, p, pd)
}

func TestHeightV2RoundTrip(t *testing.T) {
	p := &HeightV2{Height: 12345, Timestamp: 999}
	p.Signature[0] = 9
	p.MinterPubKey[0] = 7
	pd := &HeightV2{}
	roundTrip(t, p.EncodeBinary, pd.DecodeBinary)
	require.Equal(t, p, pd)
}

func TestTransactionSignaturesRoundTrip(t *testing.T) {
	p := &TransactionSignatures{Signatures: [][SignatureHashSize]byte{{1}, {2}}}
	pd := &TransactionSignatures{}
	roundTrip(t, p.EncodeBinary, pd.DecodeBinary)
	require.Equal(t, p, pd)
}

func TestEmptyPayloadsRoundTrip(t *testing.T) {
	roundTrip(t, (&GetPeers{}).EncodeBinary, (&GetPeers{}).DecodeBinary)
	roundTrip(t, (&GetUnconfirmedTransactions{}).EncodeBinary, (&GetUnconfirmedTransactions{}).DecodeBinary)
	roundTrip(t, (&Ping{}).EncodeBinary, (&Ping{}).DecodeBinary)
}

package core

import (
	"errors"
	"fmt"
	"strings"
)

// BootstrapCheckpointHeight is the height of the last bootstrap-prefix block.
const BootstrapCheckpointHeight uint64 = 32

// GenesisTimestamp is the fixed timestamp of prefix block 0; each later
// prefix block is one second after its parent.
const GenesisTimestamp int64 = 1_700_000_000

// BootstrapBlockHashes holds the fingerprints of the bootstrap prefix,
// heights 0 through BootstrapCheckpointHeight. The values are fixed at
// release time; refresh them with the export-bootstrap-hashes command.
var BootstrapBlockHashes = [BootstrapCheckpointHeight + 1]string{
	"de3af70d46a34f694eebfdfe325fa72faf5418a799079d726f561ae1cb3f155f", // height 0
	"9c28a4cfb2754fa795b11b758a64d1e3cc82a173888f9eb8923c5ec1507f10e5", // height 1
	"d2cd4a7bdbfb5956d3837502754f96b1b447e15b9fc6a21915debd1775dba207", // height 2
	"375185acebcd5465b96d8bdb5e0020aec9cd0098452d7bdf6f7211db56e12e4b", // height 3
	"e93672e47f4aabb750c520925c28e3632b4681d91342d0e9e4a51516df1f4068", // height 4
	"8c1de07c597cfa430795a0b11e9b2b7a0b8a72d45b056f3d7081bdee2c7e56ed", // height 5
	"edf4709bb2f82be7c73af0127ee123b92b721a26bb1734135f0592f934405266", // height 6
	"c611ebf00c2ead50cd6231b303115f3a8a6346c4811cd8a18e08bf5aa778f23f", // height 7
	"3df9bc8f5fc0c0baba41eb56e703f756cf68dcf0886f6475676b1f651f5b6c62", // height 8
	"e55c02e016c6381d18692baa74669f5a317645c0be82dd03458fadfdea8d249d", // height 9
	"2456bc6c23736798cd79eb8c10ac08549e2367405962945c63ec06d94a45d8f4", // height 10
	"bddb404c3caa398cee40d5150a5ba3c4dc248bec8eaa2320cd49d1da2d49735d", // height 11
	"96b3bacb3acea6cb8eb1892a0626bb363ffc6306c9bd0d81ca256c4e44268ca2", // height 12
	"5e54a5fccd9fcf319f8ded531cbd0ae8227cb57c920d1abf118d21de01244e8a", // height 13
	"acb636880284e7a14e46e9b35596b5dfdf9bb45aed0469ff028f09a8e64c81c9", // height 14
	"bf207b6aadaf7853fffffe79cd671e0c0488ae4915408ec301aebcc0f6335caa", // height 15
	"6440c2c0fd507ce9f9e55be10746146fef39e1092694439abc15dca609defd0b", // height 16
	"c76087ca30b974625a187e0cdeec7dc19cc8e065f8a2758c36d14ec4a0928cac", // height 17
	"84fe2804bc224149d0cc028bca2d9dd38d0953ea58671b3558db10af77d51514", // height 18
	"3f7a1ea617d9bd246093c933fdd29d1d8b08e4b4906ee857cd70d7de37f03109", // height 19
	"3b1b1a7f59548f248ee7b2bcde5248fec941b1c2ee1ef21ad7fa52c615a1c8f2", // height 20
	"a4f596b6cd5dd8c1f76bc5c0144530f0632bab434f1a59d69e11fad2ec3431b1", // height 21
	"365bfab28326141663f43d5b548371bfa03b72f05ae3ba63dcdb600756773060", // height 22
	"695d6a3ffdcea34e9b4d918e82d3302c21a43d1a4aed54992701ce1b0c8bc3ff", // height 23
	"a986cc080f4d8dccb4d1ed2b706ba66ac694f435993c40bb592959b9ab2b1c08", // height 24
	"81c9a68d3763c7ff329f48a7bb4ab365c6562a12b7691101bfeb7fbe8b4d1508", // height 25
	"c782d02e5327f94caa371b41e7fec6c313b4ddaa9d2a6646bd72a58cedaa3284", // height 26
	"4d986b45133fca74a537ef6c5874731e3a3060982a02f7d25d11e97b087d0a57", // height 27
	"49f9983eaaf6ab5180ac401a724a853efdac2a412a3cf1fcf2fcf39fb94f709f", // height 28
	"ab5355d3df7d8d9e18aef03a593e55075804502e8ac85948cd7cdeb142a4f661", // height 29
	"c7afb5be13aae944eb08bca1679a31043eebf81031323999f4a68c8d3e0f2ebb", // height 30
	"2eb48abb1fdab2c44e0bfdc0bf488f523f6e59eff25563a1f1d5592e3144ec1f", // height 31
	"66b20796c854863a6f5a104f2dceaec597f6f032e0ab9866677e28a5ef243eed", // height 32
}

// BootstrapCheckpointHash returns the fingerprint of the checkpoint block.
func BootstrapCheckpointHash() string {
	return BootstrapBlockHashes[BootstrapCheckpointHeight]
}

// ErrBootstrapUnset is returned when the embedded prefix table is all-zero:
// a deployment error, not a runtime condition.
var ErrBootstrapUnset = errors.New("bootstrap block hashes are unset; refusing to initialize an empty store")

// ErrDatabaseCorrupted is returned when the persisted checkpoint block does
// not carry the compiled-in fingerprint. The store must be wiped and
// re-synced.
var ErrDatabaseCorrupted = errors.New("database corrupted: checkpoint fingerprint mismatch (wipe the data dir and restart)")

func bootstrapTableUnset() bool {
	for _, h := range BootstrapBlockHashes {
		if h != "" && strings.Trim(h, "0") != "" {
			return false
		}
	}
	return true
}

// bootstrapBlock builds the synthetic prefix block for height h. Its Hash is
// the compiled-in fingerprint, not a recomputed one; prefix blocks never
// satisfy PoW and are trusted by construction.
func bootstrapBlock(h uint64) *Block {
	parent := GenesisParent
	if h > 0 {
		parent = BootstrapBlockHashes[h-1]
	}
	coinbase := &Transaction{
		From:      BootstrapSender,
		To:        BootstrapSender,
		Amount:    0,
		Nonce:     h,
		Timestamp: GenesisTimestamp + int64(h),
	}
	coinbase.ID = coinbase.HashID()
	b := &Block{
		Header: BlockHeader{
			ParentHash: parent,
			Height:     h,
			Timestamp:  GenesisTimestamp + int64(h),
			TargetBits: PowLimitBits,
			Miner:      BootstrapSender,
			TxRoot:     ComputeTxRoot([]*Transaction{coinbase}),
		},
		Txs:  []*Transaction{coinbase},
		Hash: BootstrapBlockHashes[h],
	}
	return b
}

// installBootstrap writes the embedded prefix into an empty store and sets
// the tip to the checkpoint block.
func (c *Chain) installBootstrap() error {
	if bootstrapTableUnset() {
		return ErrBootstrapUnset
	}
	for h := uint64(0); h <= c.params.CheckpointHeight; h++ {
		b := bootstrapBlock(h)
		if err := c.store.PutBlock(b); err != nil {
			return fmt.Errorf("install prefix block %d: %w", h, err)
		}
		if err := c.store.PutCanonicalHash(h, b.Hash); err != nil {
			return fmt.Errorf("install prefix index %d: %w", h, err)
		}
		// Prefix blocks carry a fixed, minimal positive work.
		c.putWork(b.Hash, prefixCumWork(h))
	}
	tip := bootstrapBlock(c.params.CheckpointHeight)
	if err := c.store.SetTip(tip.Hash); err != nil {
		return fmt.Errorf("install prefix tip: %w", err)
	}
	c.tip = tip
	c.tipWork = prefixCumWork(c.params.CheckpointHeight)
	return nil
}

// verifyBootstrap checks the persisted checkpoint block against the
// compiled-in fingerprint on a non-empty store.
func (c *Chain) verifyBootstrap() error {
	hash, err := c.store.GetCanonicalHash(c.params.CheckpointHeight)
	if err != nil {
		return fmt.Errorf("read checkpoint block: %w", err)
	}
	if hash != c.params.CheckpointHash {
		return ErrDatabaseCorrupted
	}
	return nil
}

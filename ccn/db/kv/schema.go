package kv

// The schema will define how to store and retrieve data from the db.
// We can prefix or suffix certain values such as `message` with attributes
// for prefix/suffix scanning.
var (
	pendingTxsBucket      = []byte("pending-txs")
	pendingMessagesBucket = []byte("pending-messages")
	messagesBucket        = []byte("messages")
	rejectedMessagesBucket = []byte("rejected-messages")
	rejectedTxsBucket      = []byte("rejected-txs")

	aggregatesBucket        = []byte("aggregates")
	aggregateElementsBucket = []byte("aggregate-elements")
	postsBucket             = []byte("posts")
	filesBucket             = []byte("files")
	filePinsBucket          = []byte("file-pins")
	fileTagsBucket          = []byte("file-tags")
	balancesBucket          = []byte("balances")
	programsBucket          = []byte("programs")
	chainCursorsBucket      = []byte("chain-cursors")

	// Indices buckets.
	pendingMessageHashIndexBucket = []byte("pending-message-hash-index")
	postAmendIndexBucket          = []byte("post-amend-index")
)

// sep separates the parts of a composite key. None of the key parts (chain
// names, addresses, hex digests, base58 CIDs) may contain a zero byte.
const sep = byte(0x00)

// Pargzip - a parallel block compressor for large files
//
// # Abstract
//
// This library compresses a file on several workers at once and stores the
// result in a small container that records how to put the data back
// together. Decompression is parallel as well: every worker's output is
// decoded independently, and the pieces are merged back in order.
//
// # How it works
//
// The input is read in fixed-size blocks (1 MiB by default). Block k is
// handed to worker k mod W, so with four workers, worker 0 gets blocks 0, 4,
// 8 and so on. Each worker compresses everything it receives into a single
// codec stream, its shard, stored in a private file of a temporary working
// directory. Once all workers are done, the container is written: a header
// with the worker count, the block size and the length of every shard,
// followed by the shards one after the other.
//
// To decompress, the header tells how to cut the payload back into shards.
// Every shard is decoded on its own worker. A decoded shard is the
// concatenation of its blocks, and all blocks but the very last one are
// full, so reading one block from each decoded shard in turn, worker 0
// first, yields the original data.
//
// Producers and workers never share buffers or files: every handoff goes
// through a Slot, a blocking mailbox with room for a single payload, and
// every file in the working directory is written by exactly one worker.
// The working directory is removed when the run ends, whether it
// succeeded or not.
//
// # Container format
//
// All integers are little-endian:
//
//	int32  worker count (W)
//	int32  block size (B)
//	int64  shard length, W times (only when W > 1)
//	bytes  payload
//
// With a single worker there is no length table and the payload is one codec
// stream that runs to the end of the file.
//
// # Codecs
//
// Shards are gzip streams by default. zstd, s2 and lz4 are available too;
// the codec is not stored in the header, it is recognized from the magic
// bytes at the start of the shards.
//
// # Command line tool
//
// This package contains a command line tool called "pargzip":
//
//	$ go install github.com/marnagy/pargzip/cmd/pargzip@latest
//	$ pargzip compress big.log big.log.pgz 8
//	$ pargzip decompress big.log.pgz big.log
package pargzip

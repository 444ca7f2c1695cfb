// Package main provides a command-line utility that dumps a byte range of
// a file through the fdata.Stream/cachestore machinery, rather than
// reading it directly, to exercise the segment-mapping and caching paths
// on a single-segment stream.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/scigolib/fdata"
	"github.com/scigolib/fdata/internal/cachestore"
	"github.com/scigolib/fdata/internal/utils"
)

func main() {
	offset := flag.Int64("offset", 0, "Offset in file to start dumping from")
	length := flag.Int("length", 128, "Number of bytes to dump")
	cacheSize := flag.Int("cache-entries", 16, "Number of segment buffers the LRU cache holds")
	asUint64 := flag.Bool("as-uint64", false, "Also decode the first 8 bytes as a little-endian uint64")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Println("Usage: fdatacat [flags] <file>")
		fmt.Println("Flags:")
		flag.PrintDefaults()
		return
	}

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("Failed to open file: %v", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Failed to close file: %v", err)
		}
	}()

	fileInfo, err := f.Stat()
	if err != nil {
		log.Fatalf("Failed to get file info: %v", err)
	}
	fileSize := fileInfo.Size()

	if *length < 1 {
		log.Fatalf("Invalid length: %d", *length)
	}

	var stream *fdata.Stream
	callbacks := fdata.StreamCallbacks{
		ReadSegmentData: func(handle interface{}, ioHandle interface{}, segmentIndex int, buf []byte, flags uint32) (int, error) {
			r := handle.(io.ReaderAt)
			seg, err := stream.SegmentByIndex(segmentIndex)
			if err != nil {
				return 0, err
			}
			return r.ReadAt(buf, seg.Offset())
		},
	}

	stream, err = fdata.NewStream(f, callbacks, 0)
	if err != nil {
		log.Fatalf("Failed to construct stream: %v", err)
	}

	remaining := fileSize - *offset
	if remaining < 0 {
		remaining = 0
	}
	segSize := int64(*length)
	if segSize > remaining {
		segSize = remaining
	}

	if _, err := stream.AppendSegment(0, *offset, uint64(segSize), 0); err != nil {
		log.Fatalf("Failed to append segment: %v", err)
	}

	cache, err := cachestore.New(*cacheSize)
	if err != nil {
		log.Fatalf("Failed to build cache: %v", err)
	}

	buf := make([]byte, segSize)
	n, err := stream.ReadBufferAtOffset(f, cache, buf, 0)
	if err != nil {
		log.Printf("Read error: %v (read %d of %d bytes)", err, n, segSize)
	}

	fmt.Printf("Dumping %d bytes at offset 0x%x (%d) of %s (size: %d bytes, cache entries: %d):\n",
		n, *offset, *offset, path, fileSize, cache.Len())

	hexDump(buf[:n], *offset)

	if *asUint64 {
		v, err := utils.ReadUint64(f, *offset, binary.LittleEndian)
		if err != nil {
			log.Printf("Decode error: %v", err)
		} else {
			fmt.Printf("uint64 @ offset 0x%x: %d\n", *offset, v)
		}
	}
}

func hexDump(buf []byte, baseOffset int64) {
	for i := 0; i < len(buf); i += 16 {
		end := i + 16
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[i:end]

		fmt.Printf("%08x: ", baseOffset+int64(i))
		for j := 0; j < 16; j++ {
			if j < len(chunk) {
				fmt.Printf("%02x ", chunk[j])
			} else {
				fmt.Print("   ")
			}
			if j == 7 {
				fmt.Print(" ")
			}
		}
		fmt.Print(" |")

		for _, b := range chunk {
			if b >= 32 && b <= 126 {
				fmt.Printf("%c", b)
			} else {
				fmt.Print(".")
			}
		}
		fmt.Println("|")
	}
}

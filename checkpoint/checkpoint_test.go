package checkpoint_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/micros/checkpoint"
	"github.com/sarchlab/micros/emu"
)

func plenty() (uint64, error) { return 1 << 40, nil }

func newMemory(size uint64) *emu.Memory {
	mem, err := emu.NewMemory(size, emu.WithAvailableMemory(plenty))
	Expect(err).NotTo(HaveOccurred())
	return mem
}

var _ = Describe("Sections", func() {
	It("should round-trip memory", func() {
		src := newMemory(1 << 20)
		src.Write64(0x2000, 0xcafebabe12345678)
		src.Write(0xfffff, 1, 0x5a)

		var buf bytes.Buffer
		Expect(checkpoint.WriteMemory(&buf, src)).To(Succeed())
		Expect(buf.Len()).To(Equal(16 + 1<<20))
		Expect(binary.LittleEndian.Uint64(buf.Bytes())).
			To(Equal(checkpoint.MemoryMagic))

		dst := newMemory(1 << 20)
		Expect(checkpoint.ReadMemory(&buf, dst)).To(Succeed())
		Expect(dst.Read64(0x2000)).To(Equal(uint64(0xcafebabe12345678)))
		Expect(dst.Read(0xfffff, 1)).To(Equal(uint64(0x5a)))
	})

	It("should reject a memory size mismatch", func() {
		var buf bytes.Buffer
		Expect(checkpoint.WriteMemory(&buf, newMemory(1<<20))).To(Succeed())

		dst := newMemory(2 << 20)
		dst.Write64(0, 0x77)
		err := checkpoint.ReadMemory(&buf, dst)

		Expect(err).To(MatchError(checkpoint.ErrChecksumMismatch))
		Expect(err.Error()).To(ContainSubstring("recorded size 1048576"))
		Expect(dst.Read64(0)).To(Equal(uint64(0x77)))
	})

	It("should reject a wrong magic", func() {
		var buf bytes.Buffer
		Expect(checkpoint.WriteProc(&buf, &emu.ArchState{})).To(Succeed())

		err := checkpoint.ReadMemory(&buf, newMemory(1<<20))

		Expect(err).To(MatchError(checkpoint.ErrChecksumMismatch))
		Expect(err.Error()).To(ContainSubstring("memory section"))
	})

	It("should round-trip processor state", func() {
		var src emu.ArchState
		src.Reset()
		src.PC = 0x2468
		src.XPR[10] = 42
		src.FPR[3] = 0x4000000000000000
		src.SR |= emu.SREI
		src.Compare = 1000
		src.Count = 0x1_0000_0005

		var buf bytes.Buffer
		Expect(checkpoint.WriteProc(&buf, &src)).To(Succeed())

		var dst emu.ArchState
		Expect(checkpoint.ReadProc(&buf, &dst)).To(Succeed())
		Expect(dst).To(Equal(src))
	})

	It("should leave state unchanged on a truncated section", func() {
		var src emu.ArchState
		src.PC = 0x3000
		var buf bytes.Buffer
		Expect(checkpoint.WriteProc(&buf, &src)).To(Succeed())
		truncated := bytes.NewReader(buf.Bytes()[:40])

		var dst emu.ArchState
		dst.PC = 0x1234
		err := checkpoint.ReadProc(truncated, &dst)

		Expect(err).To(MatchError(io.ErrUnexpectedEOF))
		Expect(dst.PC).To(Equal(uint64(0x1234)))
	})
})

var _ = Describe("Files", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(path string, c checkpoint.Compression) {
		var s emu.ArchState
		s.PC = 0xabc0
		Expect(checkpoint.SaveFile(path, c, func(w io.Writer) error {
			return checkpoint.WriteProc(w, &s)
		})).To(Succeed())
	}

	read := func(path string) (emu.ArchState, error) {
		var s emu.ArchState
		err := checkpoint.LoadFile(path, func(r io.Reader) error {
			return checkpoint.ReadProc(r, &s)
		})
		return s, err
	}

	It("should read back an uncompressed file", func() {
		path := filepath.Join(dir, "ckpt.proc")
		write(path, checkpoint.None)

		s, err := read(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(s.PC).To(Equal(uint64(0xabc0)))
	})

	It("should sniff gzip regardless of the file name", func() {
		path := filepath.Join(dir, "ckpt.proc")
		write(path, checkpoint.Gzip)

		raw, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw[:2]).To(Equal([]byte{0x1f, 0x8b}))

		s, err := read(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(s.PC).To(Equal(uint64(0xabc0)))
	})

	It("should read an uncompressed file named .gz", func() {
		path := filepath.Join(dir, "ckpt.gz")
		write(path, checkpoint.None)

		s, err := read(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(s.PC).To(Equal(uint64(0xabc0)))
	})

	It("should name the file in errors", func() {
		path := filepath.Join(dir, "bad.proc")
		Expect(os.WriteFile(path, make([]byte, 16), 0o644)).To(Succeed())

		_, err := read(path)

		Expect(err).To(MatchError(checkpoint.ErrChecksumMismatch))
		Expect(err.Error()).To(ContainSubstring("bad.proc"))
		Expect(err.Error()).To(ContainSubstring("proc section"))
	})

	It("should report a missing file", func() {
		_, err := read(filepath.Join(dir, "missing"))

		Expect(err).To(MatchError(os.ErrNotExist))
	})

	It("should parse compression names", func() {
		c, err := checkpoint.ParseCompression("gzip")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(checkpoint.Gzip))

		_, err = checkpoint.ParseCompression("zstd")
		Expect(err).To(HaveOccurred())
	})
})

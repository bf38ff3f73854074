// Package memview ties a physical memory backend, an architecture, and
// a translator into the session handle callers actually construct
// (spec §4.10, component N): the root entry point for opening a
// virtual-memory view or locating a Windows kernel inside a capture.
package memview

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/arch"
	"github.com/tinyrange/memview/physmem"
	"github.com/tinyrange/memview/translate"
	"github.com/tinyrange/memview/virtmem"
	"github.com/tinyrange/memview/win32"
)

// Session owns a physical memory backend and knows how to build
// translators and virtual views over it.
type Session struct {
	mem physmem.PhysicalMemory
	a   arch.Architecture
	log *slog.Logger
}

// SessionOption configures a Session at construction time.
type SessionOption func(*Session)

// WithLogger overrides the default stderr text-handler logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession binds mem and a into a Session, ready to build virtual
// views once a directory table base is known.
func NewSession(mem physmem.PhysicalMemory, a arch.Architecture, opts ...SessionOption) *Session {
	s := &Session{
		mem: mem,
		a:   a,
		log: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VirtualMemory builds a translated view of the address space rooted at
// dtb, using the session's architecture.
func (s *Session) VirtualMemory(dtb address.Address) virtmem.View {
	return virtmem.New(s.mem, translate.New(s.a, dtb))
}

// startBlockPriority orders candidate architectures (x86-64, then PAE,
// then x86) when more than one scan reports a match. The lowstub and
// fallback scans both report x86-64 and share a rank, so if both match,
// the result that arrives first is kept.
var startBlockPriority = map[arch.Name]int{
	arch.X86_64: 0,
	arch.X86PAE: 1,
	arch.X86:    2,
}

// LocateStartBlock reads the first 16MB of physical memory once and
// fans the x86-64 lowstub, x86-64 fallback, PAE and plain x86 signature
// scans out across goroutines, since each only reads the shared buffer
// and they are otherwise independent value-owned scans over the same
// data (the concurrency model's "clone"-style horizontal parallelism,
// applied to scanning rather than to handle duplication).
func (s *Session) LocateStartBlock(ctx context.Context) (*win32.StartBlock, error) {
	low16m := make([]byte, 16*address.MB)
	if err := s.mem.PhysReadRawList([]physmem.ReadRequest{{Addr: address.FromAddress(address.Null), Buf: low16m}}); err != nil {
		return nil, fmt.Errorf("memview: read low 16MB: %w", err)
	}

	results := make(chan *win32.StartBlock, 4)
	g, _ := errgroup.WithContext(ctx)
	scans := []func() (*win32.StartBlock, error){
		func() (*win32.StartBlock, error) { return win32.FindX64Lowstub(low16m[:1*address.MB]) },
		func() (*win32.StartBlock, error) { return win32.FindX64Fallback(low16m) },
		func() (*win32.StartBlock, error) { return win32.FindX86PAE(low16m) },
		func() (*win32.StartBlock, error) { return win32.FindX86(low16m) },
	}
	for _, scan := range scans {
		scan := scan
		g.Go(func() error {
			if sb, err := scan(); err == nil {
				results <- sb
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	var best *win32.StartBlock
	for sb := range results {
		if best == nil || startBlockPriority[sb.Arch] < startBlockPriority[best.Arch] {
			best = sb
		}
	}
	if best == nil {
		return nil, fmt.Errorf("memview: unable to find a directory table base with any known scan")
	}
	s.log.Debug("located start block", "arch", best.Arch, "dtb", best.DTB)
	return best, nil
}

// LocateWindowsKernel finds the directory table base and then the
// ntoskrnl.exe image inside the kernel address space it roots.
func (s *Session) LocateWindowsKernel(ctx context.Context) (*win32.StartBlock, *win32.KernelImage, error) {
	sb, err := s.LocateStartBlock(ctx)
	if err != nil {
		return nil, nil, err
	}

	kernelArch, ok := arch.Get(sb.Arch)
	if !ok {
		return nil, nil, fmt.Errorf("memview: start block reported unregistered architecture %q", sb.Arch)
	}
	view := virtmem.New(s.mem, translate.New(kernelArch, sb.DTB))

	image, err := win32.FindNtoskrnl(view)
	if err != nil {
		return sb, nil, err
	}
	s.log.Info("located ntoskrnl.exe", "base", image.Base, "size", image.SizeOfImage)
	return sb, image, nil
}

// EnumerateProcesses locates the Windows kernel, resolves its EPROCESS
// offsets, and walks the active process list.
func (s *Session) EnumerateProcesses(ctx context.Context, offsetsKey string) ([]win32.Process, error) {
	sb, image, err := s.LocateWindowsKernel(ctx)
	if err != nil {
		return nil, err
	}
	kernelArch, _ := arch.Get(sb.Arch)
	view := virtmem.New(s.mem, translate.New(kernelArch, sb.DTB))

	sysProc, err := win32.FindSystemEPROCESS(view, *image)
	if err != nil {
		return nil, err
	}
	off, err := win32.LookupOffsets(offsetsKey)
	if err != nil {
		return nil, err
	}
	return win32.WalkProcessList(view, sysProc, off)
}

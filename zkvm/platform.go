// platform.go defines the guest/host contract for the zkVM: memory layout,
// register ABI, ecall selectors and software syscall names. These values
// are shared with guest programs and with the proving circuit, so changing
// any of them on one side only is a breaking change.
package zkvm

// Memory geometry.
const (
	// WordSize is the machine word size in bytes.
	WordSize = 4

	// PageSize is the unit of page-in/page-out accounting.
	PageSize = 1024

	// MemSize is the size of the guest address space (256 MiB).
	MemSize = 1 << 28

	// NumPages is the number of pages covering MemSize.
	NumPages = MemSize / PageSize

	// DigestBytes is the size of a SHA-256 digest.
	DigestBytes = 32

	// DigestWords is DigestBytes in machine words.
	DigestWords = DigestBytes / WordSize

	// BlockBytes is the size of one SHA-256 compression block.
	BlockBytes = 64

	// BlockWords is BlockBytes in machine words.
	BlockWords = BlockBytes / WordSize

	// BlocksPerPage is the number of compression blocks needed to hash a
	// full page.
	BlocksPerPage = PageSize / BlockBytes
)

// Fixed regions.
const (
	// SystemRegionStart holds the register file: register i is stored at
	// SystemRegionStart + 4*i and the program counter follows x31.
	SystemRegionStart uint32 = 0x0C00_0000

	// PageTableStart is the first byte of the in-memory page table.
	PageTableStart uint32 = 0x0D00_0000
)

// Register ABI.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegT0   = 5
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15

	// RegCount is the number of general-purpose registers.
	RegCount = 32

	// RegPC is the pseudo-register index of the program counter slot.
	RegPC = RegCount
)

// ECall selectors, read from t0.
const (
	ECallHalt     uint32 = 0
	ECallInput    uint32 = 1
	ECallSoftware uint32 = 2
	ECallSHA      uint32 = 3
	ECallBigInt   uint32 = 4
)

// Halt types, encoded in the low byte of a0 on HALT.
const (
	HaltTerminate uint32 = 0
	HaltPause     uint32 = 1
)

// Software syscall names.
const (
	SysCycleCount = "risc0_zkvm_platform::syscall::nr::SYS_CYCLE_COUNT"
	SysLog        = "risc0_zkvm_platform::syscall::nr::SYS_LOG"
	SysPanic      = "risc0_zkvm_platform::syscall::nr::SYS_PANIC"
	SysGetenv     = "risc0_zkvm_platform::syscall::nr::SYS_GETENV"
	SysRead       = "risc0_zkvm_platform::syscall::nr::SYS_READ"
	SysReadAvail  = "risc0_zkvm_platform::syscall::nr::SYS_READ_AVAIL"
	SysWrite      = "risc0_zkvm_platform::syscall::nr::SYS_WRITE"
)

// Host file descriptors visible to the guest.
const (
	FdStdin  uint32 = 0
	FdStdout uint32 = 1
	FdStderr uint32 = 2
)

// RegisterAddr returns the address of register idx in the system region.
// idx == RegPC addresses the program counter slot.
func RegisterAddr(idx int) uint32 {
	return SystemRegionStart + uint32(idx)*WordSize
}

// alignUp rounds n up to a multiple of align, which must be a power of two.
func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}

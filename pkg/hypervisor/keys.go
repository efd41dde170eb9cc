package hypervisor

// Parameter keys understood by backends.
const (
	KeyName          = "name"
	KeyUserData      = "userData"
	KeySecret        = "secret"
	KeyFlags         = "flags"
	KeyAPIPort       = "apiPort"
	KeyCernVMVersion = "cernvmVersion"
	KeyCPUs          = "cpus"
	KeyMemory        = "memory"
	KeyDisk          = "disk"
	KeyExecutionCap  = "executionCap"
	KeySharedFolder  = "sharedFolder"
	KeyDiskPath      = "diskPath"
	KeyDiskURL       = "diskURL"
	KeyDiskChecksum  = "diskChecksum"
	KeyOVAPath       = "ovaPath"
	KeyISOPath       = "isoPath"
	KeyImportMode    = "importMode"
	KeySSHUser       = "sshUser"
	KeySSHKey        = "sshKey"
)

// Keys of a session's local runtime facts.
const (
	LocalAPIPort    = "apiPort"
	LocalBaseFolder = "baseFolder"
	LocalRDPPort    = "rdpPort"
)

// ImportModeOVA marks a parameter set as describing an OVA import.
const ImportModeOVA = "ova"

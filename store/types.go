package store

// Worker status values.
const (
	WorkerPending      = "pending"
	WorkerProvisioning = "provisioning"
	WorkerReady        = "ready"
	WorkerStopped      = "stopped"
	WorkerError        = "error"
)

// Worker status_detail values. Only meaningful while status is "error";
// each detail maps to a distinct recovery action in the UI.
const (
	DetailUnreachable      = "unreachable"
	DetailMachineStopped   = "machine_stopped"
	DetailMachineDestroyed = "machine_destroyed"
	DetailProvisionFailed  = "provision_failed"
)

// Worker categories. Only persistent workers may be stopped; ephemeral
// workers are destroyed instead.
const (
	CategoryEphemeral  = "ephemeral"
	CategoryPersistent = "persistent"
)

// Net load states.
const (
	NetUnloaded = "unloaded"
	NetLoaded   = "loaded"
	NetError    = "error"
)

// ValidWorkerStatus reports whether s is a known worker status.
func ValidWorkerStatus(s string) bool {
	switch s {
	case WorkerPending, WorkerProvisioning, WorkerReady, WorkerStopped, WorkerError:
		return true
	}
	return false
}

// ValidWorkerCategory reports whether s is a known worker category.
func ValidWorkerCategory(s string) bool {
	return s == CategoryEphemeral || s == CategoryPersistent
}

// ValidLoadState reports whether s is a known net load state.
func ValidLoadState(s string) bool {
	switch s {
	case NetUnloaded, NetLoaded, NetError:
		return true
	}
	return false
}

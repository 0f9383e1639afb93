package transport

import "fmt"

// CreationError is returned when a Connection cannot be created or opened.
// Grounded on ZeroCopyCreationError.
type CreationError int

const (
	CreationInternalError CreationError = iota
	CreationIsBeingCleanedUp
	CreationAnotherInstanceIsAlreadyConnected
	CreationInsufficientPermissions
	CreationVersionMismatch
	CreationConnectionMaybeCorrupted
	CreationInvalidSampleSize
	CreationInitializationNotYetFinalized
	CreationIncompatibleBufferSize
	CreationIncompatibleMaxBorrowedSamplesPerChannelSetting
	CreationIncompatibleOverflowSetting
	CreationIncompatibleNumberOfSamples
	CreationIncompatibleNumberOfSegments
	CreationIncompatibleNumberOfChannels
)

func (e CreationError) Error() string {
	switch e {
	case CreationInternalError:
		return "transport: internal error"
	case CreationIsBeingCleanedUp:
		return "transport: connection is being cleaned up"
	case CreationAnotherInstanceIsAlreadyConnected:
		return "transport: another instance is already connected"
	case CreationInsufficientPermissions:
		return "transport: insufficient permissions"
	case CreationVersionMismatch:
		return "transport: version mismatch"
	case CreationConnectionMaybeCorrupted:
		return "transport: connection maybe corrupted"
	case CreationInvalidSampleSize:
		return "transport: invalid sample size"
	case CreationInitializationNotYetFinalized:
		return "transport: initialization not yet finalized"
	case CreationIncompatibleBufferSize:
		return "transport: incompatible buffer size"
	case CreationIncompatibleMaxBorrowedSamplesPerChannelSetting:
		return "transport: incompatible max borrowed samples per channel setting"
	case CreationIncompatibleOverflowSetting:
		return "transport: incompatible overflow setting"
	case CreationIncompatibleNumberOfSamples:
		return "transport: incompatible number of samples"
	case CreationIncompatibleNumberOfSegments:
		return "transport: incompatible number of segments"
	case CreationIncompatibleNumberOfChannels:
		return "transport: incompatible number of channels"
	default:
		return fmt.Sprintf("transport: unknown creation error (%d)", int(e))
	}
}

func (e CreationError) Is(target error) bool {
	other, ok := target.(CreationError)
	return ok && other == e
}

// SendError is returned by Sender.TrySend/BlockingSend.
type SendError int

const (
	SendConnectionCorrupted SendError = iota
	SendReceiveBufferFull
	SendUsedChunkListFull
)

func (e SendError) Error() string {
	switch e {
	case SendConnectionCorrupted:
		return "transport: connection corrupted"
	case SendReceiveBufferFull:
		return "transport: receive buffer full"
	case SendUsedChunkListFull:
		return "transport: used chunk list full"
	default:
		return fmt.Sprintf("transport: unknown send error (%d)", int(e))
	}
}

func (e SendError) Is(target error) bool {
	other, ok := target.(SendError)
	return ok && other == e
}

// ReceiveError is returned by Receiver.Receive.
type ReceiveError int

const (
	ReceiveWouldExceedMaxBorrowValue ReceiveError = iota
)

func (e ReceiveError) Error() string {
	switch e {
	case ReceiveWouldExceedMaxBorrowValue:
		return "transport: receive would exceed max borrow value"
	default:
		return fmt.Sprintf("transport: unknown receive error (%d)", int(e))
	}
}

func (e ReceiveError) Is(target error) bool {
	other, ok := target.(ReceiveError)
	return ok && other == e
}

// ReclaimError is returned by Sender.Reclaim.
type ReclaimError int

const (
	ReclaimReceiverReturnedCorruptedPointerOffset ReclaimError = iota
)

func (e ReclaimError) Error() string {
	switch e {
	case ReclaimReceiverReturnedCorruptedPointerOffset:
		return "transport: receiver returned corrupted pointer offset"
	default:
		return fmt.Sprintf("transport: unknown reclaim error (%d)", int(e))
	}
}

// ReleaseError is returned by Receiver.Release.
type ReleaseError int

const (
	ReleaseRetrieveBufferFull ReleaseError = iota
)

func (e ReleaseError) Error() string {
	switch e {
	case ReleaseRetrieveBufferFull:
		return "transport: retrieve buffer full"
	default:
		return fmt.Sprintf("transport: unknown release error (%d)", int(e))
	}
}

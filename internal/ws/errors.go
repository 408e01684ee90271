package ws

import "github.com/beamchat/internal/model"

// Machine-readable ack reasons. The error text next to them is for humans;
// clients branch on the reason only.
const (
	ReasonNotAMember       = "not_a_member"
	ReasonNotFound         = "not_found"
	ReasonInvalidPayload   = "invalid_payload"
	ReasonUploadFailed     = "upload_failed"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonInternal         = "internal"
)

func reasonText(reason string) string {
	switch reason {
	case ReasonNotAMember:
		return "Not a member of this conversation"
	case ReasonNotFound:
		return "Not found"
	case ReasonInvalidPayload:
		return "Invalid payload"
	case ReasonUploadFailed:
		return "Upload failed"
	case ReasonStoreUnavailable:
		return "Store unavailable"
	default:
		return "Internal error"
	}
}

func ackOK(ackID string, msg *model.Message) OutgoingFrame {
	return OutgoingFrame{Type: EventAck, AckID: ackID, Payload: AckPayload{
		Status:  "ok",
		Message: msg,
	}}
}

func ackError(ackID, reason string) OutgoingFrame {
	return OutgoingFrame{Type: EventAck, AckID: ackID, Payload: AckPayload{
		Status: "error",
		Reason: reason,
		Error:  reasonText(reason),
	}}
}

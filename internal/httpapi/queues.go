package httpapi

import (
	"net/http"

	"clinicq/internal/queue"
	"clinicq/internal/store"
)

type ticketEventsResponse struct {
	TicketID string              `json:"ticket_id"`
	Verified bool                `json:"verified"`
	Events   []store.TicketEvent `json:"events"`
}

type channelAuthRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

type channelAuthResponse struct {
	Auth string `json:"auth"`
}

// handleCancelTicket lets either the booking patient or the owning clinic
// cancel a waiting ticket.
func (h *Handler) handleCancelTicket(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	in := queue.CancelInput{TicketID: r.PathValue("ticketID")}
	if identity.IsClinic() {
		in.ClinicID = identity.Subject
	} else {
		in.PatientID = identity.Subject
	}
	ticket, err := h.queue.CancelTicket(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	ticketID := r.PathValue("ticketID")
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	owner := ticket.PatientID
	if identity.IsClinic() {
		owner = ticket.ClinicID
	}
	if owner != identity.Subject {
		h.fail(w, r, store.ErrTicketNotFound)
		return
	}
	events, err := h.store.ListTicketEvents(r.Context(), ticketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []store.TicketEvent{}
	}
	writeJSON(w, http.StatusOK, ticketEventsResponse{
		TicketID: ticketID,
		Verified: store.VerifyTicketEvents(events) == nil,
		Events:   events,
	})
}

// handleChannelAuth signs a channel token for one socket after checking the
// caller may subscribe to the channel.
func (h *Handler) handleChannelAuth(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req channelAuthRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.SocketID == "" || req.ChannelName == "" {
		h.fail(w, r, invalid("socket_id and channel_name are required"))
		return
	}
	if err := h.channels.Authorize(r.Context(), identity, req.ChannelName); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.issuer.IssueChannel(identity, req.SocketID, req.ChannelName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, channelAuthResponse{Auth: token})
}

package api

import (
	"errors"
	"net/http"

	"github.com/MrWong99/lifeline/internal/contact"
)

type contactRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

func (c contactRequest) contact() contact.Contact {
	return contact.Contact{
		ID:           c.ID,
		Name:         c.Name,
		Phone:        c.Phone,
		Relationship: c.Relationship,
	}
}

// contactStatus maps store errors to HTTP status codes.
func contactStatus(err error) int {
	switch {
	case errors.Is(err, contact.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contact.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, contact.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.contacts.List(r.Context())
	if err != nil {
		writeError(w, contactStatus(err), err)
		return
	}
	if list == nil {
		list = []contact.Contact{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.contacts.Add(r.Context(), req.contact())
	if err != nil {
		writeError(w, contactStatus(err), err)
		return
	}
	if !c.Dispatchable() {
		// Allowed, but the contact will not receive alerts.
		w.Header().Set("Warning", `199 - "contact has no phone number"`)
	}
	w.Header().Set("Location", "/v1/contacts/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, err := s.contacts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, contactStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if req.ID != "" && req.ID != id {
		writeError(w, http.StatusBadRequest, errors.New("body id does not match path"))
		return
	}
	req.ID = id
	if err := s.contacts.Update(r.Context(), req.contact()); err != nil {
		writeError(w, contactStatus(err), err)
		return
	}
	c, err := s.contacts.Get(r.Context(), id)
	if err != nil {
		writeError(w, contactStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.contacts.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, contactStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

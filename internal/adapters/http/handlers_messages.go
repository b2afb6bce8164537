package web

import (
	"net/http"

	"inbox/internal/adapters/http/middleware"
	"inbox/internal/application/listutil"
	"inbox/internal/application/orchestrators"
	"inbox/internal/application/projections"
	"inbox/internal/contract"
	"inbox/internal/domain/message"
)

// currentUser returns the authenticated user id. Routes are mounted behind RequireUser,
// so a miss here is a wiring bug and is reported as 401 rather than trusted.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserIDFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, contract.ErrorResponse{Error: "authentication required", Code: contract.CodeUnauthorized})
	}
	return id, ok
}

// publisher keeps a nil hub from becoming a non-nil interface.
func (s *Server) publisher() orchestrators.EventPublisher {
	if s.opts.Hub == nil {
		return nil
	}
	return s.opts.Hub
}

// handleSendMessage handles POST /messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req contract.SendMessageRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if err := contract.Validate(req); err != nil {
		respondError(w, err)
		return
	}

	m, err := orchestrators.ExecuteSendMessage(r.Context(), orchestrators.SendMessageInput{
		SenderID:    userID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
	}, orchestrators.SendMessageDeps{
		MessageStore: s.stores.MessageStore,
		Publisher:    s.publisher(),
		Notifier:     s.opts.Notifier,
		Now:          s.now,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	views := projections.ViewMessages(r.Context(), s.stores.UserStore, []message.Message{m})
	writeJSON(w, http.StatusCreated, contract.SendMessageResponse{Message: contract.FromView(views[0])})
}

// handleListConversations handles GET /messages/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	result, err := projections.QueryGetConversations(r.Context(), projections.GetConversationsQuery{UserID: userID},
		projections.GetConversationsDeps{MessageStore: s.stores.MessageStore})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contract.ConversationsResponse{
		Conversations: contract.FromConversations(result.Conversations),
		Total:         result.Total,
	})
}

// handleGetThread handles GET /messages/conversation/{otherUserId}.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	otherUserID := r.PathValue("otherUserId")
	if otherUserID == "" {
		badRequest(w, "otherUserId is required")
		return
	}
	window, err := listutil.ParseWindow(r.URL.Query())
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := projections.QueryGetConversationMessages(r.Context(), projections.GetConversationMessagesQuery{
		UserID:      userID,
		OtherUserID: otherUserID,
		Window:      window,
	}, projections.GetConversationMessagesDeps{
		MessageStore: s.stores.MessageStore,
		Users:        s.stores.UserStore,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contract.ThreadResponse{Messages: contract.FromViews(result.Messages), Total: result.Total})
}

// handleMarkRead handles PUT /messages/read.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req contract.MarkReadRequest
	if err := strictDecode(w, r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if err := contract.Validate(req); err != nil {
		respondError(w, err)
		return
	}

	n, err := orchestrators.ExecuteMarkMessagesRead(r.Context(), orchestrators.MarkMessagesReadInput{
		MessageIDs: req.MessageIDs,
		UserID:     userID,
	}, orchestrators.MarkMessagesReadDeps{
		MessageStore: s.stores.MessageStore,
		Publisher:    s.publisher(),
		Now:          s.now,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contract.MarkReadResponse{UpdatedCount: n})
}

// handleDeleteMessage handles DELETE /messages/{id}.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	err := orchestrators.ExecuteDeleteMessage(r.Context(), orchestrators.DeleteMessageInput{
		MessageID: r.PathValue("id"),
		UserID:    userID,
	}, orchestrators.DeleteMessageDeps{
		MessageStore: s.stores.MessageStore,
		Publisher:    s.publisher(),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnreadCount handles GET /messages/unread-count.
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := projections.QueryGetUnreadCount(r.Context(), projections.GetUnreadCountQuery{UserID: userID},
		projections.GetUnreadCountDeps{MessageStore: s.stores.MessageStore})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contract.UnreadCountResponse{UnreadCount: n})
}

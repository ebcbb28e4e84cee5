package activitypub

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const maxInboxBody = 1 << 20

// HandleInbox receives a signed activity. The response is 401 for a bad
// signature, 400 for a body that is not an activity and 202 for everything
// else, including activities that fail to apply.
func (e *Env) HandleInbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboxBody))
	if err != nil {
		e.Log.Warn("Inbox: Failed to read body", zap.Error(err))
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	activity, err := ParseActivity(body)
	if err != nil {
		e.Log.Warn("Inbox: Failed to parse activity", zap.Error(err))
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}
	base := activity.Base()
	host := hostOf(base.Actor)

	if !e.instanceActive(host) {
		e.Log.Info("Inbox: Dropping activity from suspended instance",
			zap.String("host", host), zap.String("id", base.ID))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	verified, err := e.VerifyRequest(r.Context(), r, body, base.Actor)
	if err != nil {
		e.Log.Warn("Inbox: Signature verification failed",
			zap.String("actor", base.Actor), zap.String("id", base.ID), zap.Error(err))
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	e.Log.Info("Inbox: Received activity", zap.String("type", base.Type), zap.String("actor", base.Actor))

	if verified.Fetched {
		if err := e.RememberActor(verified.Actor); err != nil {
			e.Log.Warn("Inbox: Failed to store actor", zap.String("actor", base.Actor), zap.Error(err))
		}
	}
	if err := e.Store.TouchInstance(host); err != nil {
		e.Log.Warn("Inbox: Failed to record instance", zap.String("host", host), zap.Error(err))
	}

	inserted, err := e.logActivity(activity, body, false)
	if err != nil {
		e.Log.Error("Inbox: Failed to log activity", zap.String("id", base.ID), zap.Error(err))
	}
	if !inserted && err == nil {
		if logged, err := e.Store.ReadActivityByURI(base.ID); err == nil && logged.Processed {
			e.Log.Debug("Inbox: Duplicate activity", zap.String("id", base.ID))
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}

	err = e.Dispatch(r.Context(), activity, verified.Actor)
	switch {
	case errors.Is(err, ErrUnknownActivityType):
		e.Log.Info("Inbox: Ignoring activity", zap.String("id", base.ID), zap.Error(err))
	case err != nil:
		// left unprocessed so a redelivery is applied again
		e.Log.Error("Inbox: Failed to apply activity", zap.String("id", base.ID), zap.Error(err))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := e.Store.MarkActivityProcessed(base.ID); err != nil {
		e.Log.Warn("Inbox: Failed to mark activity processed", zap.String("id", base.ID), zap.Error(err))
	}
	w.WriteHeader(http.StatusAccepted)
}

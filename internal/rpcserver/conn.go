package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/arloq/notifyd/internal/event"
	"github.com/arloq/notifyd/internal/notify"
	"github.com/arloq/notifyd/internal/subscribe"
	"github.com/arloq/notifyd/internal/wire"
)

// dispatch handles every request/response Kind. Listen* kinds never
// reach here — handleConn routes those to serveListen instead, since
// they hold the connection open rather than returning one frame.
func (s *Server) dispatch(ctx context.Context, env wire.Envelope) wire.Envelope {
	switch env.Kind {
	case wire.KindRegisterClient, wire.KindDeleteClient, wire.KindSendEvent:
		if err := s.requireLeader(ctx); err != nil {
			return errEnvelope(env.Kind, "not_leader", err)
		}
	}

	switch env.Kind {
	case wire.KindRegisterClient:
		return s.handleRegisterClient(ctx, env)
	case wire.KindDeleteClient:
		return s.handleDeleteClient(ctx, env)
	case wire.KindIsClientExists:
		return s.handleIsClientExists(ctx, env)
	case wire.KindSendEvent:
		return s.handleSendEvent(ctx, env)
	case wire.KindListEvents:
		return s.handleListEvents(ctx, env)
	case wire.KindListAllEvents:
		return s.handleListAllEvents(ctx, env)
	case wire.KindListAllEventsByTime:
		return s.handleListAllEventsByTime(ctx, env)
	case wire.KindCountEvents:
		return s.handleCountEvents(ctx, env)
	case wire.KindGetLatestVersion:
		return s.handleGetLatestVersion(ctx, env)
	case wire.KindGetClient:
		return s.handleGetClient(ctx, env)
	case wire.KindListMembers:
		return s.handleListMembers(ctx, env)
	default:
		return errEnvelope(env.Kind, "validation", errors.New("rpcserver: unknown request kind"))
	}
}

func (s *Server) requireLeader(ctx context.Context) error {
	if s.elector == nil {
		return nil
	}
	return s.elector.RequireLeader(ctx)
}

func (s *Server) handleRegisterClient(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.RegisterClientRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	client, err := s.svc.RegisterClient(ctx, req.Namespace, req.Sender, req.ClientID)
	if err != nil {
		return errEnvelope(env.Kind, "internal", err)
	}
	return okEnvelope(env.Kind, wire.RegisterClientResponse{Client: client})
}

func (s *Server) handleDeleteClient(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.DeleteClientRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	if err := s.svc.DeleteClient(ctx, req.ClientID); err != nil {
		return errEnvelope(env.Kind, "internal", err)
	}
	return okEnvelope(env.Kind, wire.DeleteClientResponse{})
}

func (s *Server) handleIsClientExists(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.IsClientExistsRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	exists, err := s.svc.IsClientExists(ctx, req.ClientID)
	if err != nil {
		return errEnvelope(env.Kind, "internal", err)
	}
	return okEnvelope(env.Kind, wire.IsClientExistsResponse{Exists: exists})
}

func (s *Server) handleSendEvent(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.SendEventRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	sent, err := s.svc.SendEvent(ctx, notify.SendRequest{
		ClientID:       req.ClientID,
		SequenceNumber: req.SequenceNumber,
		Event:          req.Event,
	})
	if err != nil {
		code := classifySendError(err)
		if s.metrics != nil {
			s.metrics.EventsRejected.WithLabelValues(code).Inc()
		}
		return errEnvelope(env.Kind, code, err)
	}
	if s.metrics != nil {
		s.metrics.EventsAppended.Inc()
	}
	return okEnvelope(env.Kind, wire.SendEventResponse{Event: sent})
}

func classifySendError(err error) string {
	switch {
	case errors.Is(err, event.ErrEmptyKey), errors.Is(err, notify.ErrAmbiguousNamespace):
		return "validation"
	case errors.Is(err, notify.ErrUnknownClient):
		return "validation"
	default:
		return "internal"
	}
}

func (s *Server) handleListEvents(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.QueryRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	events, err := s.svc.ListEvents(ctx, req.Namespace, toQueryArgs(req))
	if err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	return okEnvelope(env.Kind, wire.ListEventsResponse{Events: events})
}

func (s *Server) handleListAllEvents(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.QueryRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	events, err := s.svc.ListAllEvents(ctx, toQueryArgs(req))
	if err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	return okEnvelope(env.Kind, wire.ListEventsResponse{Events: events})
}

func (s *Server) handleListAllEventsByTime(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.ListEventsByTimeRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	events, err := s.svc.ListAllEventsByTime(ctx, req.StartTimeMsInclusive, req.EndTimeMsInclusive, notify.QueryArgs{
		Keys:      req.Keys,
		EventType: req.EventType,
		Namespace: req.FilterNamespace,
		Sender:    req.Sender,
	})
	if err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	return okEnvelope(env.Kind, wire.ListEventsResponse{Events: events})
}

func (s *Server) handleCountEvents(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.QueryRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	total, breakdown, err := s.svc.CountEvents(ctx, req.Namespace, toQueryArgs(req))
	if err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	dto := make([]wire.CountBreakdownDTO, 0, len(breakdown))
	for _, b := range breakdown {
		dto = append(dto, wire.CountBreakdownDTO{Sender: b.Sender, EventCount: b.EventCount})
	}
	return okEnvelope(env.Kind, wire.CountEventsResponse{Total: total, BySender: dto})
}

func (s *Server) handleGetLatestVersion(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.GetLatestVersionRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	v, err := s.svc.GetLatestVersion(ctx, req.Key, req.Namespace)
	if err != nil {
		return errEnvelope(env.Kind, "internal", err)
	}
	return okEnvelope(env.Kind, wire.GetLatestVersionResponse{Version: v})
}

func (s *Server) handleGetClient(ctx context.Context, env wire.Envelope) wire.Envelope {
	var req wire.GetClientRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	client, err := s.svc.GetClient(ctx, req.ClientID)
	if err != nil {
		return errEnvelope(env.Kind, "validation", err)
	}
	return okEnvelope(env.Kind, wire.GetClientResponse{Client: client})
}

func (s *Server) handleListMembers(ctx context.Context, env wire.Envelope) wire.Envelope {
	if s.elector == nil {
		return okEnvelope(env.Kind, wire.ListMembersResponse{})
	}
	members, err := s.elector.ListMembers(ctx)
	if err != nil {
		return errEnvelope(env.Kind, "internal", err)
	}
	dto := make([]wire.MemberDTO, 0, len(members))
	for _, m := range members {
		dto = append(dto, wire.MemberDTO{ServerURI: m.ServerURI, ServerUUID: m.ServerUUID, LastHeartbeatTS: m.LastHeartbeatTS, IsLeader: m.IsLeader})
	}
	return okEnvelope(env.Kind, wire.ListMembersResponse{Members: dto})
}

// serveListen registers a subscribe.Listener and streams EventBatch
// frames until the client disconnects or ctx is cancelled.
func (s *Server) serveListen(ctx context.Context, conn net.Conn, env wire.Envelope) {
	var req wire.ListenRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.log.Warn().Err(err).Msg("malformed listen request")
		return
	}

	filter := toQueryArgsFromListen(req)
	namespace := req.Namespace
	if env.Kind == wire.KindListenAllEvents {
		any := event.Wildcard
		filter.Namespace = &any
	}
	f, err := notify.NormalizeFilter(namespace, filter)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid listen filter")
		return
	}

	listener := s.subs.Register(ctx, f, req.FromVersionExclusive, subscribe.DefaultBufferSize)
	defer listener.Close()
	if s.metrics != nil {
		s.metrics.ActiveListeners.Inc()
		defer s.metrics.ActiveListeners.Dec()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-listener.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(wire.EventBatch{Events: []event.Event{ev}})
			if err != nil {
				return
			}
			// The client's declared inbound limit governs what the
			// server may push, not just what it may receive: an event
			// too large for this listener's stated capacity is skipped
			// rather than delivered truncated or blocked on forever.
			if req.MaxReceiveMessageLength > 0 && len(payload) > req.MaxReceiveMessageLength {
				s.log.Warn().Int("payload_size", len(payload)).Int("max", req.MaxReceiveMessageLength).Int64("version", ev.Version).Msg("event exceeds listener's declared frame limit, skipping")
				if s.metrics != nil {
					s.metrics.ListenerDrops.Inc()
				}
				continue
			}
			out := wire.Envelope{Kind: wire.KindEventBatch, Payload: payload}
			encoded, err := json.Marshal(out)
			if err != nil {
				return
			}
			if err := wire.WriteFrame(conn, encoded); err != nil {
				return
			}
		}
	}
}

func toQueryArgs(req wire.QueryRequest) notify.QueryArgs {
	return notify.QueryArgs{
		Keys:                req.Keys,
		EventType:           req.EventType,
		Namespace:           req.FilterNamespace,
		Sender:              req.Sender,
		VersionLowExclusive: req.VersionLowExclusive,
	}
}

func toQueryArgsFromListen(req wire.ListenRequest) notify.QueryArgs {
	return notify.QueryArgs{
		Keys:                req.Keys,
		EventType:           req.EventType,
		Namespace:           req.FilterNamespace,
		Sender:              req.Sender,
		VersionLowExclusive: req.FromVersionExclusive,
	}
}

func okEnvelope(kind wire.Kind, payload any) wire.Envelope {
	encoded, _ := json.Marshal(payload)
	return wire.Envelope{Kind: kind, Payload: encoded}
}

func errEnvelope(kind wire.Kind, code string, err error) wire.Envelope {
	encoded, _ := json.Marshal(wire.ErrorResponse{Code: code, Message: err.Error()})
	return wire.Envelope{Kind: kind, Payload: encoded}
}

package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "approvals.v1.ApprovalService"

// ApprovalServiceServer is the server API for ApprovalService. Messages are
// google.protobuf.Struct documents so clients need no generated stubs.
type ApprovalServiceServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Act(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ApprovalServiceDesc describes ApprovalService for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Submit", ApprovalServiceServer.Submit),
		unaryMethod("Act", ApprovalServiceServer.Act),
		unaryMethod("Cancel", ApprovalServiceServer.Cancel),
		unaryMethod("GetStatus", ApprovalServiceServer.GetStatus),
		unaryMethod("GetHistory", ApprovalServiceServer.GetHistory),
		unaryMethod("ListPending", ApprovalServiceServer.ListPending),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "approvals/v1/approvals.proto",
}

func unaryMethod(name string, call func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ApprovalServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// GRPCHandler implements ApprovalServiceServer on top of the approval engine.
type GRPCHandler struct {
	engine Engine
	log    *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler.
func NewGRPCHandler(engine Engine, log *logger.Logger) *GRPCHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GRPCHandler{engine: engine, log: log.Named("grpc")}
}

// Register adds the service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&ApprovalServiceDesc, h)
}

// actorID extracts the caller from incoming metadata, or returns "".
func actorID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(ActorHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}

func field(req *structpb.Struct, key string) string {
	if v, ok := req.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func (h *GRPCHandler) target(req *structpb.Struct) (repository.EntityType, string, error) {
	t, err := parseEntityType(field(req, "entity_type"))
	if err != nil {
		return "", "", err
	}
	return t, field(req, "entity_id"), nil
}

// Submit starts an approval. Fields: entity_type, entity_id, workflow_id (optional).
func (h *GRPCHandler) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entityType, entityID, err := h.target(req)
	if err != nil {
		return nil, h.fail("Submit", err)
	}
	st, err := h.engine.Submit(ctx, entityType, entityID, optional(field(req, "workflow_id")), actorID(ctx))
	if err != nil {
		return nil, h.fail("Submit", err)
	}
	return statusToStruct(st)
}

// Act applies an action. Fields: entity_type, entity_id, action, comment.
func (h *GRPCHandler) Act(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entityType, entityID, err := h.target(req)
	if err != nil {
		return nil, h.fail("Act", err)
	}
	st, err := h.engine.Act(ctx, entityType, entityID,
		parseAction(field(req, "action")), field(req, "comment"), actorID(ctx))
	if err != nil {
		return nil, h.fail("Act", err)
	}
	return statusToStruct(st)
}

// Cancel withdraws a pending approval. Fields: entity_type, entity_id.
func (h *GRPCHandler) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entityType, entityID, err := h.target(req)
	if err != nil {
		return nil, h.fail("Cancel", err)
	}
	st, err := h.engine.Cancel(ctx, entityType, entityID, actorID(ctx))
	if err != nil {
		return nil, h.fail("Cancel", err)
	}
	return statusToStruct(st)
}

// GetStatus reports an entity's approval state. Fields: entity_type, entity_id.
func (h *GRPCHandler) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entityType, entityID, err := h.target(req)
	if err != nil {
		return nil, h.fail("GetStatus", err)
	}
	st, err := h.engine.GetStatus(ctx, entityType, entityID)
	if err != nil {
		return nil, h.fail("GetStatus", err)
	}
	return statusToStruct(st)
}

// GetHistory lists the history of an entity's current record as {"items": [...]}.
func (h *GRPCHandler) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entityType, entityID, err := h.target(req)
	if err != nil {
		return nil, h.fail("GetHistory", err)
	}
	items, err := h.engine.GetHistory(ctx, entityType, entityID)
	if err != nil {
		return nil, h.fail("GetHistory", err)
	}

	list := make([]any, 0, len(items))
	for _, it := range items {
		list = append(list, historyToMap(it))
	}
	return newStruct(map[string]any{"items": list})
}

// ListPending lists the approvals the caller may act on as {"items": [...]}.
func (h *GRPCHandler) ListPending(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pending, err := h.engine.ListPending(ctx, actorID(ctx))
	if err != nil {
		return nil, h.fail("ListPending", err)
	}

	list := make([]any, 0, len(pending))
	for _, st := range pending {
		list = append(list, statusToMap(st))
	}
	return newStruct(map[string]any{"items": list})
}

// fail logs err and converts it to a gRPC status.
func (h *GRPCHandler) fail(method string, err error) error {
	code := errors.CodeOf(err)
	ev := h.log.Warn()
	if grpcCode(code) == codes.Internal {
		ev = h.log.Error()
	}
	ev.Err(err).Str("method", method).Str("code", string(code)).Msg("gRPC call failed")
	return mapErrorToGRPC(err)
}

// ── conversion helpers ────────────────────────────────────────────────────────

func statusToMap(st *service.ApprovalStatus) map[string]any {
	m := map[string]any{
		"entity_type": string(st.EntityType),
		"entity_id":   st.EntityID,
		"status":      st.Status,
		"progress":    st.Progress,
	}
	if st.RecordID != "" {
		m["record_id"] = st.RecordID
	}
	if st.WorkflowID != "" {
		m["workflow_id"] = st.WorkflowID
		m["workflow_name"] = st.WorkflowName
		m["total_steps"] = st.TotalSteps
	}
	if st.CurrentStep > 0 {
		m["current_step"] = st.CurrentStep
	}
	if st.CurrentStepName != "" {
		m["current_step_name"] = st.CurrentStepName
	}
	if st.CurrentApprover != "" {
		m["current_approver"] = st.CurrentApprover
	}
	return m
}

func historyToMap(it *service.HistoryItem) map[string]any {
	return map[string]any{
		"step_order": it.StepOrder,
		"step_name":  it.StepName,
		"actor_id":   it.ActorID,
		"actor_name": it.ActorName,
		"action":     string(it.Action),
		"comment":    it.Comment,
		"action_at":  it.ActionAt.UTC().Format(time.RFC3339Nano),
	}
}

func statusToStruct(st *service.ApprovalStatus) (*structpb.Struct, error) {
	return newStruct(statusToMap(st))
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, mapErrorToGRPC(errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response"))
	}
	return s, nil
}

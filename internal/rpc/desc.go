// Package rpc serves the campus.v1.Campus gRPC service on the session
// socket. Messages are google.protobuf.Struct values decoded into the
// typed request and response structs of this package, so no generated
// code is needed on either side.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "campus.v1.Campus"

// WatchMethod is the server-streaming method.
const WatchMethod = "Watch"

// CampusServer is the handler type registered with ServiceDesc.
type CampusServer interface {
	UserID() string
}

type method func(s *Service, ctx context.Context, in *structpb.Struct) (any, error)

// unary adapts a typed handler to the Struct wire form.
func unary[Req any](fn func(s *Service, ctx context.Context, req *Req) (any, error)) method {
	return func(s *Service, ctx context.Context, in *structpb.Struct) (any, error) {
		req := new(Req)
		if err := decode(in, req); err != nil {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
		}
		return fn(s, ctx, req)
	}
}

var methods = map[string]method{
	"Status":            unary((*Service).status),
	"ListChats":         unary((*Service).listChats),
	"GetChat":           unary((*Service).getChat),
	"ListMessages":      unary((*Service).listMessages),
	"ListStarred":       unary((*Service).listStarred),
	"CreateChat":        unary((*Service).createChat),
	"JoinChat":          unary((*Service).joinChat),
	"CheckInvitation":   unary((*Service).checkInvitation),
	"AddUsers":          unary((*Service).addUsers),
	"RemoveUser":        unary((*Service).removeUser),
	"LeaveChat":         unary((*Service).leaveChat),
	"AddAdmin":          unary((*Service).addAdmin),
	"RemoveAdmin":       unary((*Service).removeAdmin),
	"UpdateChat":        unary((*Service).updateChat),
	"RegenerateInvite":  unary((*Service).regenerateInvite),
	"InviteQR":          unary((*Service).inviteQR),
	"Block":             unary((*Service).block),
	"Unblock":           unary((*Service).unblock),
	"ListBlocks":        unary((*Service).listBlocks),
	"SendText":          unary((*Service).sendText),
	"SendImage":         unary((*Service).sendImage),
	"SendDocument":      unary((*Service).sendDocument),
	"StarMessage":       unary((*Service).starMessage),
	"DeleteForMe":       unary((*Service).deleteForMe),
	"DeleteForAll":      unary((*Service).deleteForAll),
	"DeleteAllMessages": unary((*Service).deleteAllMessages),
	"DeleteChat":        unary((*Service).deleteChat),
	"HideChat":          unary((*Service).hideChat),
	"SaveUser":          unary((*Service).saveUser),
	"GetUser":           unary((*Service).getUser),
	"SearchUsers":       unary((*Service).searchUsers),
	"AddPushToken":      unary((*Service).addPushToken),
	"ListPushes":        unary((*Service).listPushes),
	"ListPosts":         unary((*Service).listPosts),
	"GetPost":           unary((*Service).getPost),
	"CreatePost":        unary((*Service).createPost),
	"UpdatePost":        unary((*Service).updatePost),
	"DeletePost":        unary((*Service).deletePost),
}

// ServiceDesc describes campus.v1.Campus for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CampusServer)(nil),
	Methods:     methodDescs(),
	Streams: []grpc.StreamDesc{{
		StreamName:    WatchMethod,
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "campus/v1/campus.proto",
}

// Register adds the service to srv.
func Register(srv *grpc.Server, s *Service) {
	srv.RegisterService(&ServiceDesc, s)
}

// Methods lists the unary method names in order.
func Methods() []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func methodDescs() []grpc.MethodDesc {
	names := Methods()
	descs := make([]grpc.MethodDesc, 0, len(names))
	for _, name := range names {
		descs = append(descs, grpc.MethodDesc{MethodName: name, Handler: handlerFor(name)})
	}
	return descs
}

func handlerFor(name string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	call := methods[name]
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			s := srv.(*Service)
			out, err := call(s, ctx, req.(*structpb.Struct))
			if err != nil {
				return nil, s.toStatus(name, err)
			}
			return encode(out)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, in, info, handler)
	}
}

func decode(in *structpb.Struct, out any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func fullMethod(name string) string {
	return fmt.Sprintf("/%s/%s", ServiceName, name)
}

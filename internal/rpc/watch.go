package rpc

import (
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/status"
	"github.com/matheus3301/campus/internal/tree"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const watchBuffer = 256

// watchHandler streams tree changes related to the requested path, and
// daemon status changes, until the client goes away.
func watchHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Service)
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	var req WatchRequest
	if err := decode(in, &req); err != nil {
		return s.toStatus(WatchMethod, err)
	}
	root := tree.Clean(req.Path)

	b := s.Tree.Bus()
	changes, unsubTree := b.Subscribe(bus.KindTreeChanged, watchBuffer)
	defer unsubTree()
	statuses, unsubStatus := b.Subscribe(bus.KindDaemonStatusChange, 16)
	defer unsubStatus()

	s.Logger.Info("watch opened", zap.String("path", root))
	defer s.Logger.Info("watch closed", zap.String("path", root))

	ctx := stream.Context()
	for {
		var evt WatchEvent
		select {
		case <-ctx.Done():
			return nil
		case e := <-changes:
			change, ok := e.Payload.(tree.Change)
			if !ok {
				continue
			}
			paths := related(root, change.Paths)
			if len(paths) == 0 {
				continue
			}
			evt = WatchEvent{Kind: "tree", Paths: paths, Remote: change.Remote, At: stamp(e.Timestamp)}
		case e := <-statuses:
			sc, ok := e.Payload.(status.StatusChange)
			if !ok {
				continue
			}
			evt = WatchEvent{Kind: "status", Status: string(sc.To), Reason: sc.Reason, At: stamp(e.Timestamp)}
		}
		out, err := encode(evt)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
}

func related(root string, paths []string) []string {
	if root == "" {
		return paths
	}
	var out []string
	for _, p := range paths {
		if tree.Related(root, p) {
			out = append(out, p)
		}
	}
	return out
}

func stamp(t time.Time) string {
	return t.UTC().Format(chat.TimeLayout)
}

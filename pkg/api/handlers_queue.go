package api

import (
	"context"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

func (s *Server) handleQueueSubmit(_ context.Context, req *Request) *Response {
	var args QueueSubmitArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	ids, meta, err := s.socket.QueueSubmit(args.Data)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, ids)
}

func (s *Server) handleQueueGet(_ context.Context, req *Request) *Response {
	var args QueueGetArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	tasks, err := s.socket.QueueGetByID(args.IDs, args.Limit)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	meta.NFound = len(tasks)
	return dataResponse(meta, tasks)
}

func (s *Server) handleQueueGetNext(_ context.Context, req *Request) *Response {
	var args QueueNextArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	tasks, err := s.socket.QueueGetNext(args.Limit, args.Tag)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	meta.NFound = len(tasks)
	return dataResponse(meta, tasks)
}

func (s *Server) handleQueueMarkComplete(_ context.Context, req *Request) *Response {
	var args IDListArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.QueueMarkComplete(args.IDs)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

func (s *Server) handleQueueMarkError(_ context.Context, req *Request) *Response {
	var args QueueErrorArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.QueueMarkError(args.Data)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

func (s *Server) handleQueueResetStatus(_ context.Context, req *Request) *Response {
	var args IDListArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.QueueResetStatus(args.IDs)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

func (s *Server) handleHandleHooks(_ context.Context, req *Request) *Response {
	var args HookArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	if err := s.socket.HandleHooks(args.Data); err != nil {
		return errorResponse(err.Error())
	}
	return okResponse()
}

func (s *Server) handleUpdateRecord(_ context.Context, req *Request) *Response {
	var args RecordUpdateArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	if err := s.socket.UpdateRecordData(args.Ref, args.Payload); err != nil {
		return errorResponse(err.Error())
	}
	return okResponse()
}

func (s *Server) handleRecordStatus(_ context.Context, req *Request) *Response {
	var args RecordStatusArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	status, err := s.socket.RecordStatus(args.Ref)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, RecordStatusData{Status: status})
}

func (s *Server) handleManagerUpdate(_ context.Context, req *Request) *Response {
	var args ManagerUpdateArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	existed, err := s.socket.ManagerUpdate(args.Name, args.Cluster, args.Tag, args.Counts)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, ManagerUpdateData{Existed: existed})
}

func (s *Server) handleGetManagers(_ context.Context, req *Request) *Response {
	args := ManagerGetArgs{}
	if len(req.Args) > 0 {
		if err := decodeArgs(req, &args); err != nil {
			return errorResponse(err.Error())
		}
	}

	managers, meta, err := s.socket.GetManagers(args.Names, args.ModifiedAfter)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, managers)
}

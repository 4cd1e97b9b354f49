package api

import (
	"context"

	"github.com/ChayaSt/QCFractal/pkg/storage"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

func (s *Server) handleAddResults(_ context.Context, req *Request) *Response {
	var args ResultAddArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	ids, meta, err := s.socket.AddResults(args.Data, args.UpdateExisting)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, ids)
}

func (s *Server) handleGetResults(_ context.Context, req *Request) *Response {
	var args ResultQueryArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	results, meta, err := s.socket.GetResults(storage.ResultQuery{
		Program:    args.Program,
		Driver:     args.Driver,
		Method:     args.Method,
		Basis:      args.Basis,
		Options:    args.Options,
		Molecule:   args.Molecule,
		Status:     args.Status,
		Projection: args.Projection,
		Limit:      args.Limit,
		Skip:       args.Skip,
	})
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, results)
}

func (s *Server) handleGetResultsByID(_ context.Context, req *Request) *Response {
	var args ResultByIDArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	results, meta, err := s.socket.GetResultsByID(args.IDs, args.Projection)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, results)
}

func (s *Server) handleDelResults(_ context.Context, req *Request) *Response {
	var args IDListArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.DelResults(args.IDs)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

func (s *Server) handleAddProcedures(_ context.Context, req *Request) *Response {
	var args ProcedureAddArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	ids, meta, err := s.socket.AddProcedures(args.Data)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, ids)
}

func (s *Server) handleGetProcedures(_ context.Context, req *Request) *Response {
	var args ProcedureQueryArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	procedures, meta, err := s.socket.GetProcedures(storage.ProcedureQuery{
		ID:        args.ID,
		Procedure: args.Procedure,
		Program:   args.Program,
		HashIndex: args.HashIndex,
		Status:    args.Status,
		Limit:     args.Limit,
		Skip:      args.Skip,
	})
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, procedures)
}

func (s *Server) handleUpdateProcedure(_ context.Context, req *Request) *Response {
	var args ProcedureUpdateArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.UpdateProcedure(args.HashIndex, args.Updates)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

func (s *Server) handleAddServices(_ context.Context, req *Request) *Response {
	var args ServiceAddArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	ids, meta, err := s.socket.AddServices(args.Data)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, ids)
}

func (s *Server) handleGetServices(_ context.Context, req *Request) *Response {
	var args ServiceQueryArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	services, meta, err := s.socket.GetServices(storage.ServiceQuery{
		ID:        args.ID,
		HashIndex: args.HashIndex,
		Status:    args.Status,
		Limit:     args.Limit,
		Skip:      args.Skip,
	})
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, services)
}

func (s *Server) handleUpdateServices(_ context.Context, req *Request) *Response {
	var args ServiceUpdateArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.UpdateServices(args.Data)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

func (s *Server) handleDelServices(_ context.Context, req *Request) *Response {
	var args IDListArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.DelServices(args.IDs)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

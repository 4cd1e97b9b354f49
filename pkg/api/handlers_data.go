package api

import (
	"context"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

func (s *Server) handleInformation(_ context.Context, _ *Request) *Response {
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, InformationData{
		Name:       s.cfg.Name,
		Version:    s.cfg.Version,
		QueryLimit: s.socket.MaxLimit(),
	})
}

func (s *Server) handleAddMolecules(_ context.Context, req *Request) *Response {
	var args MoleculeAddArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	ids, meta, err := s.socket.AddMolecules(args.Data)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, ids)
}

func (s *Server) handleGetMolecules(_ context.Context, req *Request) *Response {
	var args MoleculeGetArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	mols, meta, err := s.socket.GetMolecules(args.Data, args.Index)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, mols)
}

func (s *Server) handleDelMolecules(_ context.Context, req *Request) *Response {
	var args MoleculeGetArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.DelMolecules(args.Data, args.Index)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

func (s *Server) handleAddOptions(_ context.Context, req *Request) *Response {
	var args OptionAddArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	ids, meta, err := s.socket.AddOptions(args.Data)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, ids)
}

func (s *Server) handleGetOptions(_ context.Context, req *Request) *Response {
	var args OptionGetArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	options, meta, err := s.socket.GetOptions(args.Program, args.Name, args.Limit)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, options)
}

func (s *Server) handleDelOptions(_ context.Context, req *Request) *Response {
	var args OptionGetArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.DelOption(args.Program, args.Name)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

func (s *Server) handleAddCollection(_ context.Context, req *Request) *Response {
	var args CollectionAddArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	id, meta, err := s.socket.AddCollection(args.Collection, args.Name, args.Data, args.Overwrite)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, id)
}

func (s *Server) handleGetCollections(_ context.Context, req *Request) *Response {
	var args CollectionGetArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	collections, meta, err := s.socket.GetCollections(args.Collection, args.Name, args.Limit)
	if err != nil {
		return errorResponse(err.Error())
	}
	return dataResponse(meta, collections)
}

func (s *Server) handleDelCollection(_ context.Context, req *Request) *Response {
	var args CollectionGetArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err.Error())
	}

	n, err := s.socket.DelCollection(args.Collection, args.Name)
	if err != nil {
		return errorResponse(err.Error())
	}
	meta := types.NewMeta()
	meta.Success = true
	return dataResponse(meta, CountData{N: n})
}

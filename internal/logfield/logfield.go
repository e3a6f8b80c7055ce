package lf

import (
	"github.com/davarch/ci-pilot/internal/domain"
	"go.uber.org/zap"
)

const (
	FieldProject    = "project"
	FieldProjectID  = "project_id"
	FieldPipelineID = "pipeline_id"
	FieldJobID      = "job_id"
	FieldStatus     = "status"
	FieldRef        = "ref"
	FieldRemoteURL  = "remote_url"
	FieldSeq        = "seq"
	FieldAction     = "action"
)

func Project(p domain.ProjectRef) zap.Field {
	return zap.String(FieldProject, p.Label())
}

func ProjectID(id int64) zap.Field {
	return zap.Int64(FieldProjectID, id)
}

func PipelineID(id int64) zap.Field {
	return zap.Int64(FieldPipelineID, id)
}

func JobID(id int64) zap.Field {
	return zap.Int64(FieldJobID, id)
}

func Status(s domain.Status) zap.Field {
	return zap.Stringer(FieldStatus, s)
}

func Ref(ref string) zap.Field {
	return zap.String(FieldRef, ref)
}

func RemoteURL(u string) zap.Field {
	return zap.String(FieldRemoteURL, u)
}

func Seq(seq uint64) zap.Field {
	return zap.Uint64(FieldSeq, seq)
}

func Action(a domain.Action) zap.Field {
	return zap.String(FieldAction, string(a))
}

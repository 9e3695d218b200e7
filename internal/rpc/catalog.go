package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"videoterror/internal/dao"
)

const PathPrefix = "/rpc/"

var ErrCannotCreateSchema = errors.New("cannot create schema from request type")

var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

// Operation is one entry of the catalog: a name bound to a request and a
// response message type.
type Operation interface {
	Name() string
	// Path is the remote method the operation is bound to.
	Path() string
	RequestType() reflect.Type
	ResponseType() reflect.Type
	NewRequest() any
	NewResponse() dao.Reply
	RequestSchema() (map[string]any, error)
}

// Op is the typed form of an Operation.
type Op[Req any, Resp any] struct {
	name string
}

var catalog = make(map[string]Operation)

func newOp[Req any, Resp any](name string) *Op[Req, Resp] {
	op := &Op[Req, Resp]{name: name}
	exported := strings.ToUpper(name[:1]) + name[1:]
	if got := op.RequestType().Name(); got != exported+"Request" {
		panic(fmt.Sprintf("operation %s: request type %s breaks the naming convention", name, got))
	}
	if got := op.ResponseType().Name(); got != exported+"Response" {
		panic(fmt.Sprintf("operation %s: response type %s breaks the naming convention", name, got))
	}
	if _, ok := any(new(Resp)).(dao.Reply); !ok {
		panic(fmt.Sprintf("operation %s: response type does not carry a result", name))
	}
	if _, err := schemaOf(op.RequestType()); err != nil {
		panic(fmt.Sprintf("operation %s: %v", name, err))
	}
	if _, err := schemaOf(op.ResponseType()); err != nil {
		panic(fmt.Sprintf("operation %s: %v", name, err))
	}
	if _, dup := catalog[name]; dup {
		panic(fmt.Sprintf("operation %s registered twice", name))
	}
	catalog[name] = op
	return op
}

func (o *Op[Req, Resp]) Name() string {
	return o.name
}

func (o *Op[Req, Resp]) Path() string {
	return PathPrefix + o.name
}

func (o *Op[Req, Resp]) RequestType() reflect.Type {
	return reflect.TypeOf((*Req)(nil)).Elem()
}

func (o *Op[Req, Resp]) ResponseType() reflect.Type {
	return reflect.TypeOf((*Resp)(nil)).Elem()
}

func (o *Op[Req, Resp]) NewRequest() any {
	return new(Req)
}

func (o *Op[Req, Resp]) NewResponse() dao.Reply {
	return any(new(Resp)).(dao.Reply)
}

func (o *Op[Req, Resp]) RequestSchema() (map[string]any, error) {
	schema, err := json.Marshal(reflector.ReflectFromType(o.RequestType()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCannotCreateSchema, err)
	}
	var result map[string]any
	if err := json.Unmarshal(schema, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCannotCreateSchema, err)
	}
	return result, nil
}

// EncodeRequest builds and validates a typed request from props.
func (o *Op[Req, Resp]) EncodeRequest(props map[string]any) (*Req, error) {
	msg, err := Encode(o, props)
	if err != nil {
		return nil, err
	}
	return msg.(*Req), nil
}

// BuildResponse builds a typed response from props without constraint checks.
func (o *Op[Req, Resp]) BuildResponse(props map[string]any) (*Resp, error) {
	msg, err := Build(o.ResponseType(), props)
	if err != nil {
		return nil, err
	}
	return msg.(*Resp), nil
}

// Lookup resolves an operation name against the catalog.
func Lookup(name string) (Operation, error) {
	op, ok := catalog[name]
	if !ok {
		return nil, &UnknownServiceError{Name: name}
	}
	return op, nil
}

// Operations lists the catalog ordered by name.
func Operations() []Operation {
	ops := make([]Operation, 0, len(catalog))
	for _, op := range catalog {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name() < ops[j].Name() })
	return ops
}

// Encode builds the request of op from props and checks its constraints.
func Encode(op Operation, props map[string]any) (any, error) {
	if props == nil {
		props = map[string]any{}
	}
	msg, err := Build(op.RequestType(), props)
	if err != nil {
		return nil, err
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeByName resolves name and encodes props into its request.
func EncodeByName(name string, props map[string]any) (any, error) {
	op, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return Encode(op, props)
}

var (
	AddDataset        = newOp[dao.AddDatasetRequest, dao.AddDatasetResponse]("addDataset")
	GetDatasetList    = newOp[dao.GetDatasetListRequest, dao.GetDatasetListResponse]("getDatasetList")
	GetDatasetMetrics = newOp[dao.GetDatasetMetricsRequest, dao.GetDatasetMetricsResponse]("getDatasetMetrics")
	DeleteDataset     = newOp[dao.DeleteDatasetRequest, dao.DeleteDatasetResponse]("deleteDataset")

	AddVideo       = newOp[dao.AddVideoRequest, dao.AddVideoResponse]("addVideo")
	GetVideoIDList = newOp[dao.GetVideoIDListRequest, dao.GetVideoIDListResponse]("getVideoIDList")
	GetVideoInfo   = newOp[dao.GetVideoInfoRequest, dao.GetVideoInfoResponse]("getVideoInfo")
	SetVideoInfo   = newOp[dao.SetVideoInfoRequest, dao.SetVideoInfoResponse]("setVideoInfo")
	DeleteVideo    = newOp[dao.DeleteVideoRequest, dao.DeleteVideoResponse]("deleteVideo")

	AddTaskVideoProcessing    = newOp[dao.AddTaskVideoProcessingRequest, dao.AddTaskVideoProcessingResponse]("addTaskVideoProcessing")
	AddTaskProcessingMetadata = newOp[dao.AddTaskProcessingMetadataRequest, dao.AddTaskProcessingMetadataResponse]("addTaskProcessingMetadata")
	AddTaskEventDetection     = newOp[dao.AddTaskEventDetectionRequest, dao.AddTaskEventDetectionResponse]("addTaskEventDetection")
	GetTaskIDList             = newOp[dao.GetTaskIDListRequest, dao.GetTaskIDListResponse]("getTaskIDList")
	GetTaskInfo               = newOp[dao.GetTaskInfoRequest, dao.GetTaskInfoResponse]("getTaskInfo")
	GetTaskProgress           = newOp[dao.GetTaskProgressRequest, dao.GetTaskProgressResponse]("getTaskProgress")
	DeleteTask                = newOp[dao.DeleteTaskRequest, dao.DeleteTaskResponse]("deleteTask")

	RunProcess       = newOp[dao.RunProcessRequest, dao.RunProcessResponse]("runProcess")
	GetProcessIDList = newOp[dao.GetProcessIDListRequest, dao.GetProcessIDListResponse]("getProcessIDList")
	GetProcessInfo   = newOp[dao.GetProcessInfoRequest, dao.GetProcessInfoResponse]("getProcessInfo")
	StopProcess      = newOp[dao.StopProcessRequest, dao.StopProcessResponse]("stopProcess")

	GetEventList          = newOp[dao.GetEventListRequest, dao.GetEventListResponse]("getEventList")
	GetEventsStats        = newOp[dao.GetEventsStatsRequest, dao.GetEventsStatsResponse]("getEventsStats")
	GetProcessingMetadata = newOp[dao.GetProcessingMetadataRequest, dao.GetProcessingMetadataResponse]("getProcessingMetadata")
)

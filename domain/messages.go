package domain

// Request and reply payloads, one pair per opcode. Opcodes without an entry
// carry an empty payload.

type RegisterRequest struct {
	MaxNrOfWorkers int `json:"maxNrOfWorkers"`
}

type RegisterReply struct {
	Accepted bool         `json:"accepted"`
	Reason   string       `json:"reason,omitempty"`
	Static   *StaticState `json:"static,omitempty"`
}

type UpdateMaxNrOfWorkersRequest struct {
	MaxNrOfWorkers int `json:"maxNrOfWorkers"`
}

type NewWorkerRequest struct {
	WorkerID string `json:"workerID"`
}

type NewWorkerReply struct {
	Granted bool `json:"granted"`
}

type CreateLogFileRequest struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type GetOutputFileRequest struct {
	WorkerID string `json:"workerID"`
	Path     string `json:"path"`
	Data     []byte `json:"data"`
}

type GetInputFileRequest struct {
	Path string `json:"path"`
}

type GetInputFileReply struct {
	Data []byte `json:"data"`
}

type RemoveWorkerRequest struct {
	WorkerID string       `json:"workerID"`
	Status   WorkerStatus `json:"status"`
	ExitCode int          `json:"exitCode"`
}

type UnregisterReply struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type CreateWorkersRequest struct {
	N int `json:"n"`
}

type CreateWorkersReply struct {
	WorkerIDs []string `json:"workerIDs"`
}

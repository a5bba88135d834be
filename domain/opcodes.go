package domain

import (
	"fmt"
)

// Opcode identifies an RPC. Primary-hosted and replica-hosted opcodes share
// the numeric space, the Role of the request disambiguates them.
type Opcode int

// Hosted by the Primary.
const (
	OpRegister             Opcode = 0
	OpUpdateMaxNrOfWorkers Opcode = 1
	OpRequestState         Opcode = 2
	OpNewWorker            Opcode = 3
	OpCreateLogFile        Opcode = 4
	OpGetOutputFile        Opcode = 5
	OpRemoveWorker         Opcode = 6
	OpUnregister           Opcode = 7
	OpGetInputFile         Opcode = 8
)

// Hosted by replicas.
const (
	OpCreateWorkers  Opcode = 1
	OpStartWorkers   Opcode = 2
	OpDestroyWorkers Opcode = 3
	OpStateUpdate    Opcode = 6
)

var primaryOpNames = map[Opcode]string{
	OpRegister:             "REGISTER",
	OpUpdateMaxNrOfWorkers: "UPDATE_MAX_NR_OF_WORKERS",
	OpRequestState:         "REQUEST_STATE",
	OpNewWorker:            "NEW_WORKER",
	OpCreateLogFile:        "CREATE_LOG_FILE",
	OpGetOutputFile:        "GET_OUTPUT_FILE",
	OpRemoveWorker:         "REMOVE_WORKER",
	OpUnregister:           "UNREGISTER",
	OpGetInputFile:         "GET_INPUT_FILE",
}

var replicaOpNames = map[Opcode]string{
	OpCreateWorkers:  "CREATE_WORKERS",
	OpStartWorkers:   "START_WORKERS",
	OpDestroyWorkers: "DESTROY_WORKERS",
	OpStateUpdate:    "STATE_UPDATE",
}

// OpName renders op as seen by role.
func OpName(role Role, op Opcode) string {
	names := primaryOpNames
	if role == ReplicaRole {
		names = replicaOpNames
	}
	if n, ok := names[op]; ok {
		return n
	}
	return fmt.Sprintf("OP(%d)", int(op))
}

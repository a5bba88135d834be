package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Node metrics **************************/
	/*
		jobs submitted to this node (this node is their Primary)
	*/
	GridJobsSubmittedCounter = "jobsSubmittedCounter"

	/*
		jobs rejected at submission because of invalid attributes or description
	*/
	GridJobsRejectedCounter = "jobsRejectedCounter"

	/*
		number of jobs this node hosts in either role
	*/
	GridHostedJobsGauge = "hostedJobsGauge"

	/*
		adverts received, dropped as duplicates or by the rate limiter, and answered by creating a replica
	*/
	GridAdvertsReceivedCounter = "advertsReceivedCounter"
	GridAdvertsDroppedCounter  = "advertsDroppedCounter"
	GridAdvertsAnsweredCounter = "advertsAnsweredCounter"

	/*
		adverts this node forwarded to its peers
	*/
	GridAdvertsForwardedCounter = "advertsForwardedCounter"

	/*
		inbound invocations, and those that failed with a protocol error
	*/
	GridInvocationsCounter    = "invocationsCounter"
	GridProtocolErrorsCounter = "protocolErrorsCounter"

	/*
		free cores on this node according to its ledger
	*/
	GridFreeCoresGauge = "freeCoresGauge"

	/*
		ms since the node started
	*/
	GridNodeUptime_ms = "nodeUptimeGauge_ms"

	/************************* Job metrics **************************/
	/*
		advertisement rounds sent by a Primary
	*/
	GridAdvertsSentCounter = "advertsSentCounter"

	/*
		claim cycles attempted for non-malleable jobs, and how many were rolled back
	*/
	GridClaimCyclesCounter    = "claimCyclesCounter"
	GridClaimRollbacksCounter = "claimRollbacksCounter"

	/*
		constituents admitted, unregistered, and purged after expiry or failure
	*/
	GridConstituentsRegisteredCounter   = "constituentsRegisteredCounter"
	GridConstituentsUnregisteredCounter = "constituentsUnregisteredCounter"
	GridConstituentsPurgedCounter       = "constituentsPurgedCounter"

	/*
		current number of constituents of a job
	*/
	GridConstituentsGauge = "constituentsGauge"

	/*
		NEW_WORKER requests granted and denied
	*/
	GridWorkersGrantedCounter = "workersGrantedCounter"
	GridWorkersDeniedCounter  = "workersDeniedCounter"

	/*
		workers of a job running across all constituents
	*/
	GridWorkersGauge = "workersGauge"

	/*
		state updates pushed to constituents
	*/
	GridStateUpdatesCounter = "stateUpdatesCounter"

	/*
		time taken by outgoing calls
	*/
	GridCallLatency_ms = "callLatency_ms"

	/*
		outgoing calls that failed
	*/
	GridCallFailuresCounter = "callFailuresCounter"

	/************************* Worker metrics **************************/
	/*
		workers started on this node, and how they ended
	*/
	GridWorkersStartedCounter   = "workersStartedCounter"
	GridWorkersDoneCounter      = "workersDoneCounter"
	GridWorkersKilledCounter    = "workersKilledCounter"
	GridWorkersUserErrorCounter = "workersUserErrorCounter"
	GridWorkersFailedCounter    = "workersFailedCounter"
	GridWorkersErrorCounter     = "workersErrorCounter"

	/*
		time from start to a terminal status of one worker
	*/
	GridWorkerRunLatency_ms = "workerRunLatency_ms"

	/*
		pre-stage and post-stage time of one worker
	*/
	GridPreStageLatency_ms  = "preStageLatency_ms"
	GridPostStageLatency_ms = "postStageLatency_ms"
)

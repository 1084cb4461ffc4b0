package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/node"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/mosaicnetworks/memorychain/src/task"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// solutionTimeout bounds how long a solution request waits for the solution
// to be committed.
const solutionTimeout = time.Minute

// Service is an HTTP API exposing the functional surface of a node, its stats,
// and Prometheus metrics.
type Service struct {
	bindAddress string
	node        *node.Node
	router      *mux.Router
	limiter     *rate.Limiter
	logger      *logrus.Entry
}

// NewService creates a Service. A zero limit disables request rate limiting.
func NewService(bindAddress string,
	n *node.Node,
	limit float64,
	burst int,
	logger *logrus.Entry) *Service {

	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      mux.NewRouter(),
		logger:      logger,
	}

	if limit > 0 {
		service.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering memorychain API handlers")

	registry := prometheus.NewRegistry()
	registry.MustRegister(newStatsCollector(s.node.GetStats))
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	get := func(path string, fn http.HandlerFunc) {
		s.router.HandleFunc(path, s.makeHandler(fn)).Methods(http.MethodGet)
	}
	post := func(path string, fn http.HandlerFunc) {
		s.router.HandleFunc(path, s.makeHandler(fn)).Methods(http.MethodPost)
	}

	get("/stats", s.GetStats)
	get("/chain", s.GetChain)
	get("/block/{index:[0-9]+}", s.GetBlock)
	get("/tasks", s.GetTasks)
	get("/task/{id}", s.GetTask)
	get("/balance/{id}", s.GetBalance)
	get("/history/{id}", s.GetHistory)
	get("/proposals", s.GetProposals)
	get("/proposal/{id:.+}", s.GetProposal)
	get("/nodes", s.GetNodes)
	get("/node/{id}", s.GetNode)
	get("/network", s.GetNetworkStatus)

	post("/memory", s.SubmitMemory)
	post("/task", s.SubmitTask)
	post("/vote", s.Vote)
	post("/difficulty", s.VoteDifficulty)
	post("/claim", s.ClaimTask)
	post("/solution", s.SubmitSolution)
	post("/solution/vote", s.VoteSolution)
	post("/transfer", s.Transfer)
	post("/withdraw", s.Withdraw)
	post("/register", s.RegisterNode)
	post("/heartbeat", s.Heartbeat)
	post("/status", s.UpdateStatus)

	s.router.Use(s.limit)
}

// Handler returns the router of the service.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving memorychain API")

	err := http.ListenAndServe(s.bindAddress, s.router)
	if err != nil {
		s.logger.Error(err)
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// limit answers 429 once the request rate exceeds the limiter.
func (s *Service) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Encoding response")
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)

	s.logger.WithFields(logrus.Fields{
		"status": status,
		"error":  err,
	}).Debug("Request failed")

	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func errorStatus(err error) int {
	cause := errors.Cause(err)
	switch cause {
	case task.ErrTaskNotFound,
		peers.ErrUnknownNode,
		consensus.ErrUnknownProposal:
		return http.StatusNotFound
	case context.DeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	if common.IsStore(cause, common.KeyNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, errors.Wrap(err, "decoding request"))
		return false
	}
	return true
}

/*******************************************************************************
Queries
*******************************************************************************/

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.GetStats())
}

// GetChain ...
func (s *Service) GetChain(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.GetChain())
}

// GetBlock ...
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, errors.Wrap(err, "parsing block index"))
		return
	}

	block, err := s.node.GetBlock(index)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, block)
}

// GetTasks returns every task, or the tasks in the state given by the state
// query parameter.
func (s *Service) GetTasks(w http.ResponseWriter, r *http.Request) {
	state := task.State(r.URL.Query().Get("state"))
	s.writeJSON(w, http.StatusOK, s.node.GetTasks(state))
}

// GetTask ...
func (s *Service) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.node.GetTask(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

// GetBalance ...
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.writeJSON(w, http.StatusOK, balanceResponse{
		NodeID:  id,
		Balance: s.node.GetBalance(id),
	})
}

// GetHistory ...
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.GetHistory(mux.Vars(r)["id"]))
}

// GetProposals ...
func (s *Service) GetProposals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.GetProposals())
}

// GetProposal returns an open proposal, or the outcome of a closed one.
func (s *Service) GetProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	info, outcome, ok := s.node.GetProposal(id)
	if !ok {
		s.writeError(w, consensus.ErrUnknownProposal)
		return
	}

	if info.ID != "" {
		s.writeJSON(w, http.StatusOK, proposalResponse{Open: true, Proposal: &info})
		return
	}
	s.writeJSON(w, http.StatusOK, proposalResponse{Outcome: &outcome})
}

// GetNodes ...
func (s *Service) GetNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.GetNetworkStatus().Nodes)
}

// GetNode ...
func (s *Service) GetNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.node.GetNode(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, peers.ErrUnknownNode)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

// GetNetworkStatus ...
func (s *Service) GetNetworkStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.GetNetworkStatus())
}

/*******************************************************************************
Submissions
*******************************************************************************/

// SubmitMemory ...
func (s *Service) SubmitMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.node.SubmitMemory(chain.NewMemory(req.Subject, req.Content, req.Headers, req.Flags))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, proposalIDResponse{ProposalID: id})
}

// SubmitTask ...
func (s *Service) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.node.SubmitTask(req.Description, req.Difficulty)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, proposalIDResponse{ProposalID: id})
}

// Vote ...
func (s *Service) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.node.Vote(req.ProposalID, req.NodeID, req.Decision); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// VoteDifficulty ...
func (s *Service) VoteDifficulty(w http.ResponseWriter, r *http.Request) {
	var req difficultyRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.node.VoteDifficulty(req.TaskID, req.NodeID, req.Difficulty); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ClaimTask ...
func (s *Service) ClaimTask(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.node.ClaimTask(req.TaskID, req.NodeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, proposalIDResponse{ProposalID: id})
}

// SubmitSolution waits for the solution to be committed and returns its index
// within the task.
func (s *Service) SubmitSolution(w http.ResponseWriter, r *http.Request) {
	var req solutionRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), solutionTimeout)
	defer cancel()

	index, err := s.node.SubmitSolution(ctx, req.TaskID, req.NodeID, req.Ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, solutionResponse{TaskID: req.TaskID, Index: index})
}

// VoteSolution ...
func (s *Service) VoteSolution(w http.ResponseWriter, r *http.Request) {
	var req solutionVoteRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.node.VoteSolution(req.TaskID, req.Index, req.NodeID, req.Decision); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Transfer ...
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.node.Transfer(req.From, req.To, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, proposalIDResponse{ProposalID: id})
}

// Withdraw ...
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.node.Withdraw(req.ProposalID, req.NodeID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

/*******************************************************************************
Registry
*******************************************************************************/

// RegisterNode ...
func (s *Service) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.node.RegisterNode(req.ID, req.Address, req.Capabilities, req.PubKey); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Heartbeat ...
func (s *Service) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.node.Heartbeat(req.NodeID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// UpdateStatus ...
func (s *Service) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}

	activity := peers.Activity{
		State:         req.State,
		AIModel:       req.AIModel,
		Load:          req.Load,
		CurrentTaskID: req.CurrentTaskID,
		UpdatedAt:     time.Now(),
	}

	if err := s.node.UpdateStatus(req.NodeID, activity); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

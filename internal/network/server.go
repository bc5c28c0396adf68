package network

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"wagerledger/internal/blockchain"
	"wagerledger/internal/config"
	"wagerledger/internal/storage"
)

// maxRequestBody caps POST /transactions/new bodies.
const maxRequestBody = 1 << 20

type Server struct {
	blockchain *blockchain.Blockchain
	hub        *Hub
	port       string
	server     *http.Server
	logger     *slog.Logger
}

func NewServer(bc *blockchain.Blockchain, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		blockchain: bc,
		hub:        NewHub(logger),
		port:       cfg.Port,
		logger:     logger,
	}
	bc.Subscribe(s.hub.Broadcast)

	mux := http.NewServeMux()
	mux.HandleFunc("/transactions/new", s.handleNewTransaction)
	mux.HandleFunc("/chain", s.handleGetChain)
	mux.HandleFunc("/chain/validate", s.handleValidateChain)
	mux.HandleFunc("/blocks", s.handleListBlocks)
	mux.HandleFunc("/blocks/", s.handleGetBlock)
	mux.HandleFunc("/transactions", s.handleListTransactions)
	mux.Handle("/ws/blocks", s.hub)

	s.server = &http.Server{
		Addr:           ":" + s.port,
		Handler:        mux,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Handler exposes the routes without a listener, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Start() error {
	s.logger.Info("server starting", "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleNewTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	var payload interface{}
	if len(req.Data) > 0 {
		payload = req.Data
	}

	start := time.Now()
	block, err := s.blockchain.AddTransaction(r.Context(), req.Type, req.UserID, req.BetID, payload)
	if err != nil {
		s.logger.Warn("transaction rejected", "type", req.Type, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	s.logger.Debug("transaction recorded", "index", block.Index, "elapsed", time.Since(start))
	s.writeJSON(w, http.StatusCreated, blockchain.ExportBlock(block))
}

// statusFor 把引擎错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, blockchain.ErrEmptyTransactionType), errors.Is(err, blockchain.ErrSerialization),
		errors.Is(err, blockchain.ErrTransactionHash):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrIndexConflict):
		return http.StatusConflict
	case errors.Is(err, blockchain.ErrSealTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	export, err := s.blockchain.Export(r.Context())
	if err != nil {
		s.logger.Error("failed to export chain", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleValidateChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := ValidationResponse{Valid: true}
	if err := s.blockchain.Verify(r.Context()); err != nil {
		var chainErr *blockchain.ChainError
		if !errors.As(err, &chainErr) {
			s.logger.Error("failed to read chain for validation", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		s.logger.Warn("chain validation failed", "index", chainErr.Index, "field", chainErr.Field)
		resp = ValidationResponse{Valid: false, Error: chainErr}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var order storage.Order
	switch r.URL.Query().Get("order") {
	case "", "asc":
		order = storage.Ascending
	case "desc":
		order = storage.Descending
	default:
		http.Error(w, "order must be asc or desc", http.StatusBadRequest)
		return
	}

	blocks, err := s.blockchain.Blocks(r.Context(), order)
	if err != nil {
		s.logger.Error("failed to list blocks", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	headers := make([]BlockHeader, len(blocks))
	for i := range blocks {
		headers[i] = headerOf(&blocks[i])
	}
	s.writeJSON(w, http.StatusOK, headers)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	index, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/blocks/"), 10, 64)
	if err != nil || index < 0 {
		http.Error(w, "Invalid block index", http.StatusBadRequest)
		return
	}

	block, err := s.blockchain.Block(r.Context(), index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Block not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load block", "index", index, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, blockchain.ExportBlock(block))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	userParam, betParam := query.Get("user_id"), query.Get("bet_id")
	if (userParam == "") == (betParam == "") {
		http.Error(w, "Exactly one of user_id or bet_id is required", http.StatusBadRequest)
		return
	}

	var (
		txs []blockchain.Transaction
		err error
	)
	if userParam != "" {
		id, perr := strconv.ParseInt(userParam, 10, 64)
		if perr != nil {
			http.Error(w, "Invalid user_id", http.StatusBadRequest)
			return
		}
		txs, err = s.blockchain.TransactionsByUser(r.Context(), id)
	} else {
		id, perr := strconv.ParseInt(betParam, 10, 64)
		if perr != nil {
			http.Error(w, "Invalid bet_id", http.StatusBadRequest)
			return
		}
		txs, err = s.blockchain.TransactionsByBet(r.Context(), id)
	}
	if err != nil {
		s.logger.Error("failed to list transactions", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]blockchain.ExportedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = blockchain.ExportTransaction(tx)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mantleforge/internal/chain"
	"mantleforge/internal/common"
	"mantleforge/internal/history"
	"mantleforge/internal/manager"
	"mantleforge/internal/mint"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/schema"
	"go.uber.org/zap"
)

const serviceName = "mantleforge-backend"

var decoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

func (s *APIServer) RegisterRoutes() http.Handler {
	useJSONFieldNames()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CorrelationIDMiddleware())
	router.Use(RequestLogger(s.logger))
	router.Use(CORSMiddleware(s.cfg.CORSOrigin))

	router.POST("/mint-intent", s.limiter.Middleware(), s.MintIntent)

	apiGroup := router.Group("/api")
	apiGroup.GET("/health", s.Health)
	apiGroup.GET("/status", s.Status)
	apiGroup.GET("/mint-history/:address", s.MintHistory)
	apiGroup.GET("/mint-status/:requestId", s.MintStatus)
	apiGroup.POST("/estimate-gas", s.EstimateGas)

	return router
}

func (s *APIServer) MintIntent(c *gin.Context) {
	correlationID := GetCorrelationID(c)

	var body common.MintIntentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		resp := bindError(err)
		s.logger.Info("rejected malformed mint intent",
			zap.String("correlation_id", correlationID),
			zap.String("field", resp.Field),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	res, err := s.manager.Submit(c.Request.Context(), mint.Request{
		Signature:   body.Signature,
		UserAddress: body.UserAddress,
		Asset:       body.AssetData,
	})
	if err != nil {
		status, resp := mintErrorResponse(err)
		s.logger.Info("mint intent failed",
			zap.String("correlation_id", correlationID),
			zap.Int("status", status),
			zap.String("reason", string(mint.ReasonOf(err))),
			zap.Error(err),
		)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, common.MintIntentResponse{
		TransactionID:    res.TransactionID,
		DataLogReference: res.DataLogReference,
		GasEstimate:      strconv.FormatUint(res.GasEstimate, 10),
		RiskScore:        json.Number(res.RiskScore.Dec()),
		Valuation:        json.Number(res.Valuation.Dec()),
		RequestID:        res.RequestID,
		RiskSource:       string(res.RiskSource),
	})
}

func (s *APIServer) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"chainId":   s.info.ChainID,
		"network":   common.ChainID(s.info.ChainID).Name(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *APIServer) Status(c *gin.Context) {
	contract := s.info.ContractAddress
	if contract == "" {
		contract = "Not deployed"
	}
	oracle := s.info.OracleAddress
	if oracle == "" {
		oracle = "Not configured"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "operational",
		"chainId":         s.info.ChainID,
		"network":         common.ChainID(s.info.ChainID).Name(),
		"contractAddress": contract,
		"agentAddress":    oracle,
		"riskConsultant":  s.info.RiskConsultantURL,
		"historyEnabled":  s.info.HistoryEnabled,
		"sentinelEnabled": s.info.SentinelEnabled,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *APIServer) MintHistory(c *gin.Context) {
	address := c.Param("address")
	if !ethcommon.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error:  "address must be a 0x-prefixed 20-byte hex address",
			Reason: string(mint.ReasonMalformedField),
			Field:  "address",
		})
		return
	}
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, common.ErrorResponse{Error: "mint history is not available"})
		return
	}

	var page history.Page
	if err := decoder.Decode(&page, c.Request.URL.Query()); err != nil {
		field := "query"
		var multi schema.MultiError
		if errors.As(err, &multi) {
			for key := range multi {
				field = key
				break
			}
		}
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error:  "invalid paging parameters",
			Reason: string(mint.ReasonMalformedField),
			Field:  field,
		})
		return
	}
	page = page.Normalize()

	records, err := s.history.List(c.Request.Context(), address, page)
	if err != nil {
		s.logger.Error("failed to list mint history",
			zap.String("correlation_id", GetCorrelationID(c)),
			zap.String("address", address),
			zap.Error(err),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, history.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, common.ErrorResponse{Error: "failed to load mint history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": strings.ToLower(address),
		"records": records,
		"count":   len(records),
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

func (s *APIServer) MintStatus(c *gin.Context) {
	status, err := s.manager.Status(c.Param("requestId"))
	if err != nil {
		if errors.Is(err, manager.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "mint request not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, status)
}

type estimateGasRequest struct {
	To   string `json:"to" binding:"required"`
	Data string `json:"data"`
}

func (s *APIServer) EstimateGas(c *gin.Context) {
	if s.estimator == nil {
		c.JSON(http.StatusServiceUnavailable, common.ErrorResponse{Error: "gas estimation is not available"})
		return
	}

	var body estimateGasRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}
	if !ethcommon.IsHexAddress(body.To) {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error:  "to must be a 0x-prefixed 20-byte hex address",
			Reason: string(mint.ReasonMalformedField),
			Field:  "to",
		})
		return
	}
	var data []byte
	if body.Data != "" {
		decoded, err := hexutil.Decode(body.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{
				Error:  "data must be 0x-prefixed hex",
				Reason: string(mint.ReasonMalformedField),
				Field:  "data",
			})
			return
		}
		data = decoded
	}

	cost, err := s.estimator.EstimateCost(c.Request.Context(), ethcommon.HexToAddress(body.To), data)
	if err != nil {
		var revert *chain.RevertError
		if errors.As(err, &revert) {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{
				Error:  revert.Reason,
				Reason: string(mint.ReasonLedgerRejected),
			})
			return
		}
		s.logger.Warn("gas estimation failed",
			zap.String("correlation_id", GetCorrelationID(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, common.ErrorResponse{Error: "gas estimation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gasLimit": strconv.FormatUint(cost.GasLimit, 10),
		"gasPrice": cost.GasPrice.String(),
		"gasCost":  cost.Total.String(),
		"network":  common.ChainID(s.info.ChainID).Name(),
		"chainId":  s.info.ChainID,
	})
}

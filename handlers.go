package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/mmdatafocus/purchase_ledger/workflow"
)

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrOverpayment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAggregateBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var partial *models.PartialFailureError
	if errors.As(err, &partial) {
		body["step"] = partial.Step
		body["rolled_back"] = partial.RolledBack
	}
	_ = c.Error(err)
	c.JSON(statusForError(err), body)
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return false
	}
	return true
}

func paramId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

/* creditors */

func createCreditorHandler(c *gin.Context) {
	var input models.NewCreditor
	if !bindJSON(c, &input) {
		return
	}
	creditor, err := models.CreateCreditor(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, creditor)
}

func listCreditorsHandler(c *gin.Context) {
	creditors, err := models.GetCreditors(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, creditors)
}

func getCreditorHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	creditor, err := models.GetCreditor(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, creditor)
}

func updateCreditorHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var input models.NewCreditor
	if !bindJSON(c, &input) {
		return
	}
	creditor, err := models.UpdateCreditor(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, creditor)
}

func creditorStatementHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	statement, err := models.GetCreditorStatement(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statement)
}

/* product variants */

func createProductVariantHandler(c *gin.Context) {
	var input models.NewProductVariant
	if !bindJSON(c, &input) {
		return
	}
	variant, err := models.CreateProductVariant(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, variant)
}

/* purchase orders */

func createPurchaseOrderHandler(c *gin.Context) {
	var input models.NewPurchaseOrder
	if !bindJSON(c, &input) {
		return
	}
	order, err := workflow.CreatePurchaseOrder(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func listPurchaseOrdersHandler(c *gin.Context) {
	var filter models.PurchaseOrderFilter
	if v := c.Query("creditor_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid creditor_id"})
			return
		}
		filter.CreditorId = &id
	}
	if v := c.Query("status"); v != "" {
		status := models.PurchaseOrderStatus(v)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = &status
	}
	if v := c.Query("received"); v != "" {
		received, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid received"})
			return
		}
		filter.Received = &received
	}
	orders, err := models.ListPurchaseOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func getPurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	order, err := models.GetPurchaseOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func receivePurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	order, err := workflow.ReceivePurchaseOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func recordPaymentHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var input models.NewPurchaseOrderPayment
	if !bindJSON(c, &input) {
		return
	}
	order, err := workflow.RecordPurchaseOrderPayment(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func deletePurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	order, err := workflow.DeletePurchaseOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

/* inventory */

func getInventoryHandler(c *gin.Context) {
	id, ok := paramId(c, "variant_id")
	if !ok {
		return
	}
	record, err := models.GetInventory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func inventoryTransactionsHandler(c *gin.Context) {
	id, ok := paramId(c, "variant_id")
	if !ok {
		return
	}
	transactions, err := models.GetInventoryTransactions(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transactions)
}

/* ops */

// reconcileRequest is shared by the ops endpoints; an empty business id means the caller's own.
type reconcileRequest struct {
	BusinessId string `json:"business_id"`
}

// authorizeBusiness lets admins act on any business and everyone else on their own.
func authorizeBusiness(c *gin.Context, businessId string) bool {
	ctx := c.Request.Context()
	if utils.GetIsAdminFromContext(ctx) {
		return true
	}
	own, _ := utils.GetBusinessIdFromContext(ctx)
	if own == "" || own != businessId {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func reconcileHandler(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	if req.BusinessId == "" {
		req.BusinessId, _ = utils.GetBusinessIdFromContext(c.Request.Context())
	}
	if !authorizeBusiness(c, req.BusinessId) {
		return
	}
	result, err := workflow.RunLedgerReconciliationChecks(c.Request.Context(), config.GetLogger(), req.BusinessId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func outboxReplayHandler(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if req.BusinessId == "" {
		req.BusinessId, _ = utils.GetBusinessIdFromContext(ctx)
	}
	if !authorizeBusiness(c, req.BusinessId) {
		return
	}
	replayed, err := models.ReplayPurchaseOrderEvents(utils.SetBusinessIdInContext(ctx, req.BusinessId))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"replayed":       replayed,
		"publish_status": models.OutboxPublishStatusPending,
	})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

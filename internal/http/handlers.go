package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"ordersms/internal/auth"
	"ordersms/internal/domain"
	"ordersms/internal/logging"
	"ordersms/internal/repository"
	"ordersms/internal/service"
)

type Server struct {
	engine    *gin.Engine
	customers *service.CustomerService
	orders    *service.OrderService
	authn     auth.Authenticator
	log       *zap.Logger
}

// NewServer собирает gin.Engine. При пустом allowedHosts принимается любой Host.
func NewServer(customers *service.CustomerService, orders *service.OrderService, authn auth.Authenticator, log *zap.Logger, allowedHosts ...string) *Server {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(logging.RequestLogger(log), gin.Recovery(), hostGuard(allowedHosts))
	s := &Server{engine: r, customers: customers, orders: orders, authn: authn, log: log.Named("api")}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := s.engine.Group("/api", auth.Required(s.authn, s.log))
	{
		route(api, http.MethodGet, "/me", s.me)

		customers := api.Group("/customers")
		route(customers, http.MethodPost, "", s.createCustomer)
		route(customers, http.MethodGet, "", s.listCustomers)
		route(customers, http.MethodGet, "/:id", s.getCustomer)
		route(customers, http.MethodPut, "/:id", s.updateCustomer)
		route(customers, http.MethodPatch, "/:id", s.patchCustomer)
		route(customers, http.MethodDelete, "/:id", s.deleteCustomer)

		orders := api.Group("/orders")
		route(orders, http.MethodPost, "", s.createOrder)
		route(orders, http.MethodGet, "", s.listOrders)
		route(orders, http.MethodGet, "/:id", s.getOrder)
		route(orders, http.MethodPut, "/:id", s.updateOrder)
		route(orders, http.MethodPatch, "/:id", s.patchOrder)
		route(orders, http.MethodDelete, "/:id", s.deleteOrder)
	}
}

// route регистрирует путь с завершающим слешем и без него
func route(g *gin.RouterGroup, method, path string, h gin.HandlerFunc) {
	g.Handle(method, path, h)
	g.Handle(method, path+"/", h)
}

// @Summary Current principal
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} auth.Principal
// @Failure 401 {object} map[string]string
// @Router /me [get]
func (s *Server) me(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	c.JSON(http.StatusOK, p)
}

// Customer handlers

// @Summary Create customer
// @Tags customers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body service.CustomerInput true "Customer"
// @Success 201 {object} domain.Customer
// @Failure 400 {object} errorResponse
// @Failure 401 {object} map[string]string
// @Router /customers/ [post]
func (s *Server) createCustomer(c *gin.Context) {
	var req service.CustomerInput
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	cust, err := s.customers.Create(c, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cust)
}

// @Summary Get customer by id
// @Tags customers
// @Produce json
// @Security BearerAuth
// @Param id path int true "Customer ID"
// @Success 200 {object} domain.Customer
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /customers/{id}/ [get]
func (s *Server) getCustomer(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	cust, err := s.customers.GetByID(c, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

// @Summary Replace customer
// @Tags customers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Customer ID"
// @Param input body service.CustomerInput true "Customer"
// @Success 200 {object} domain.Customer
// @Failure 400 {object} errorResponse
// @Failure 404 {object} map[string]string
// @Router /customers/{id}/ [put]
func (s *Server) updateCustomer(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req service.CustomerInput
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	cust, err := s.customers.Update(c, id, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

// @Summary Update customer fields
// @Tags customers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Customer ID"
// @Param input body service.CustomerPatch true "Fields to change"
// @Success 200 {object} domain.Customer
// @Failure 400 {object} errorResponse
// @Failure 404 {object} map[string]string
// @Router /customers/{id}/ [patch]
func (s *Server) patchCustomer(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req service.CustomerPatch
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	cust, err := s.customers.Patch(c, id, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

// @Summary Delete customer
// @Description Customers referenced by orders cannot be deleted.
// @Tags customers
// @Security BearerAuth
// @Param id path int true "Customer ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /customers/{id}/ [delete]
func (s *Server) deleteCustomer(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.customers.Delete(c, id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary List customers
// @Tags customers
// @Produce json
// @Security BearerAuth
// @Param q query string false "Name contains"
// @Param code query string false "Exact code"
// @Success 200 {array} domain.Customer
// @Router /customers/ [get]
func (s *Server) listCustomers(c *gin.Context) {
	f := repository.CustomerFilter{NameSubstring: c.Query("q"), Code: c.Query("code")}
	list, err := s.customers.List(c, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

// Order handlers

type placedOrderResponse struct {
	domain.Order
	// Notification ответ SMS-провайдера, если он ответил успешно
	Notification json.RawMessage `json:"notification,omitempty" swaggertype:"object"`
}

// @Summary Create order
// @Description Persists the order and sends one SMS to the customer. The SMS outcome does not affect the status.
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body service.OrderInput true "Order"
// @Success 201 {object} placedOrderResponse
// @Failure 400 {object} errorResponse
// @Router /orders/ [post]
func (s *Server) createOrder(c *gin.Context) {
	var req service.OrderInput
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	placed, err := s.orders.CreateOrder(c, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, placedOrderResponse{Order: placed.Order, Notification: placed.Notification})
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /orders/{id}/ [get]
func (s *Server) getOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	o, err := s.orders.GetOrder(c, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Replace order
// @Description The creation time is kept and no SMS is sent.
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Order ID"
// @Param input body service.OrderInput true "Order"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} map[string]string
// @Router /orders/{id}/ [put]
func (s *Server) updateOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req service.OrderInput
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	o, err := s.orders.UpdateOrder(c, id, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Update order fields
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Order ID"
// @Param input body service.OrderPatch true "Fields to change"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} map[string]string
// @Router /orders/{id}/ [patch]
func (s *Server) patchOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req service.OrderPatch
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	o, err := s.orders.PatchOrder(c, id, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Delete order
// @Tags orders
// @Security BearerAuth
// @Param id path int true "Order ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /orders/{id}/ [delete]
func (s *Server) deleteOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.orders.DeleteOrder(c, id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary List orders
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param customer query int false "Customer ID"
// @Success 200 {array} domain.Order
// @Failure 400 {object} map[string]string
// @Router /orders/ [get]
func (s *Server) listOrders(c *gin.Context) {
	var f repository.OrderFilter
	if v := c.Query("customer"); v != "" {
		id, err := parseID(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer"})
			return
		}
		f.CustomerID = &id
	}
	list, err := s.orders.ListOrders(c, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

type errorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// fail пишет ответ об ошибке; детали 500 остаются в логе под request_id из ответа
func (s *Server) fail(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	resp := errorResponse{Error: err.Error()}
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		resp = errorResponse{Error: "invalid input", Fields: verr.Fields}
	case status == http.StatusInternalServerError:
		_ = c.Error(err)
		resp.Error = "internal error"
		resp.RequestID = logging.RequestID(c)
	}
	c.JSON(status, resp)
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, errMalformedJSON):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCustomerHasOrders), errors.Is(err, repository.ErrCustomerInUse):
		return http.StatusConflict
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

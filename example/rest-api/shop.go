package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// openAPIDocument describes every route served by the shop.
//
//go:embed openapi.json
var openAPIDocument []byte

// Data models
type User struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Preferences UserPreferences `json:"preferences"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Notifications struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

type UserPreferences struct {
	Language      string        `json:"language"`
	Timezone      string        `json:"timezone"`
	Notifications Notifications `json:"notifications"`
}

type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	InStock     bool    `json:"in_stock"`
	Quantity    int     `json:"quantity"`
}

type OrderItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

type Order struct {
	ID                string      `json:"id"`
	CustomerName      string      `json:"customer_name"`
	CustomerEmail     string      `json:"customer_email,omitempty"`
	Items             []OrderItem `json:"items"`
	Status            string      `json:"status"`
	Total             float64     `json:"total"`
	ExpressShipping   bool        `json:"express_shipping"`
	Currency          string      `json:"currency"`
	CreatedAt         time.Time   `json:"created_at"`
	EstimatedDelivery time.Time   `json:"estimated_delivery"`
}

// Shop is an in-memory store behind the demo API.
type Shop struct {
	mu           sync.Mutex
	users        map[string]*User
	products     map[string]*Product
	orders       map[string]*Order
	orderCounter int
	now          func() time.Time
}

// NewShop returns a shop seeded with demo data.
func NewShop() *Shop {
	now := time.Now()
	s := &Shop{
		users:        make(map[string]*User),
		products:     make(map[string]*Product),
		orders:       make(map[string]*Order),
		orderCounter: 1001,
		now:          time.Now,
	}

	s.users["user123"] = &User{
		ID:    "user123",
		Name:  "John Doe",
		Email: "john@example.com",
		Preferences: UserPreferences{
			Language: "en",
			Timezone: "America/Los_Angeles",
		},
		CreatedAt: now.AddDate(0, -3, 0),
	}

	for _, p := range []*Product{
		{ID: "prod001", Name: "Wireless Headphones", Description: "High-quality wireless headphones with noise cancellation", Price: 199.99, Category: "electronics", InStock: true, Quantity: 50},
		{ID: "prod002", Name: "Coffee Mug", Description: "Ceramic coffee mug with company logo", Price: 15.99, Category: "accessories", InStock: true, Quantity: 100},
		{ID: "prod003", Name: "Laptop Stand", Description: "Adjustable aluminum laptop stand", Price: 89.99, Category: "accessories"},
	} {
		s.products[p.ID] = p
	}

	s.orders["ORD1001"] = &Order{
		ID:                "ORD1001",
		CustomerName:      "John Doe",
		CustomerEmail:     "john@example.com",
		Items:             []OrderItem{{ProductID: "prod001", ProductName: "Wireless Headphones", Quantity: 1, Price: 199.99}},
		Status:            "shipped",
		Total:             199.99,
		ExpressShipping:   true,
		Currency:          "USD",
		CreatedAt:         now.AddDate(0, 0, -2),
		EstimatedDelivery: now.AddDate(0, 0, 1),
	}

	return s
}

// Routes serves the API under /api and its description at /openapi.json.
func (s *Shop) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(openAPIDocument)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/users/{id}/profile", s.getUserProfile)
		r.Patch("/users/{id}/preferences", s.updateUserPreferences)
		r.Get("/products/search", s.searchProducts)
		r.Get("/products/{id}", s.getProduct)
		r.Post("/orders", s.createOrder)
		r.Get("/orders/{id}/status", s.getOrderStatus)
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GET /api/users/{id}/profile
func (s *Shop) getUserProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[chi.URLParam(r, "id")]
	if !exists {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PATCH /api/users/{id}/preferences
func (s *Shop) updateUserPreferences(w http.ResponseWriter, r *http.Request) {
	var updates struct {
		Notifications *Notifications `json:"notifications,omitempty"`
		Language      *string        `json:"language,omitempty"`
		Timezone      *string        `json:"timezone,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[chi.URLParam(r, "id")]
	if !exists {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if updates.Notifications != nil {
		user.Preferences.Notifications = *updates.Notifications
	}
	if updates.Language != nil {
		user.Preferences.Language = *updates.Language
	}
	if updates.Timezone != nil {
		user.Preferences.Timezone = *updates.Timezone
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "preferences": user.Preferences})
}

// GET /api/products/search
func (s *Shop) searchProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	search := strings.ToLower(query.Get("search"))
	category := query.Get("category")
	inStockOnly := query.Get("in_stock_only") == "true"
	minPrice, _ := strconv.ParseFloat(query.Get("min_price"), 64)
	maxPrice, _ := strconv.ParseFloat(query.Get("max_price"), 64)

	limit := 10
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
		limit = l
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := []*Product{}
	for _, product := range s.products {
		switch {
		case search != "" && !strings.Contains(strings.ToLower(product.Name), search):
		case category != "" && product.Category != category:
		case inStockOnly && !product.InStock:
		case minPrice > 0 && product.Price < minPrice:
		case maxPrice > 0 && product.Price > maxPrice:
		default:
			results = append(results, product)
		}
	}
	slices.SortFunc(results, func(a, b *Product) int { return strings.Compare(a.ID, b.ID) })
	if len(results) > limit {
		results = results[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"products": results,
		"total":    len(results),
	})
}

// GET /api/products/{id}
func (s *Shop) getProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[chi.URLParam(r, "id")]
	if !exists {
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// POST /api/orders
func (s *Shop) createOrder(w http.ResponseWriter, r *http.Request) {
	var orderReq struct {
		CustomerName    string      `json:"customer_name"`
		CustomerEmail   string      `json:"customer_email"`
		Items           []OrderItem `json:"items"`
		ExpressShipping bool        `json:"express_shipping"`
	}
	if err := json.NewDecoder(r.Body).Decode(&orderReq); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if orderReq.CustomerName == "" || len(orderReq.Items) == 0 {
		http.Error(w, "customer_name and items are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for i, item := range orderReq.Items {
		product, exists := s.products[item.ProductID]
		if !exists || item.Quantity < 1 {
			http.Error(w, fmt.Sprintf("invalid item %q", item.ProductID), http.StatusBadRequest)
			return
		}
		orderReq.Items[i].ProductName = product.Name
		orderReq.Items[i].Price = product.Price
		total += product.Price * float64(item.Quantity)
	}

	s.orderCounter++
	now := s.now()
	order := &Order{
		ID:                fmt.Sprintf("ORD%d", s.orderCounter),
		CustomerName:      orderReq.CustomerName,
		CustomerEmail:     orderReq.CustomerEmail,
		Items:             orderReq.Items,
		Status:            "pending",
		Total:             total,
		ExpressShipping:   orderReq.ExpressShipping,
		Currency:          "USD",
		CreatedAt:         now,
		EstimatedDelivery: now.AddDate(0, 0, 3),
	}
	if orderReq.ExpressShipping {
		order.EstimatedDelivery = now.AddDate(0, 0, 1)
	}
	s.orders[order.ID] = order

	writeJSON(w, http.StatusCreated, order)
}

// GET /api/orders/{id}/status
func (s *Shop) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[chi.URLParam(r, "id")]
	if !exists {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":           order.ID,
		"status":             order.Status,
		"created_at":         order.CreatedAt,
		"estimated_delivery": order.EstimatedDelivery,
		"total":              order.Total,
		"items_count":        len(order.Items),
		"express_shipping":   order.ExpressShipping,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

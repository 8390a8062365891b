package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/ent0n29/clerk/internal/catalog"
	"github.com/ent0n29/clerk/internal/session"
)

var ErrUnknownTool = errors.New("unknown tool")

// Catalog is the read side used by the product tools.
type Catalog interface {
	Products() []catalog.Product
	ByCategory(category string) []catalog.Product
	SearchKeyword(q string) []catalog.Product
	SearchDescription(q string) []catalog.Product
	Categories() []string
	Newest(n int) []catalog.Product
}

// Carts is the write side used by the cart tools.
type Carts interface {
	AddByName(conversationID, fragment string) string
	RemoveByName(conversationID, fragment string) string
	GetCart(conversationID string) (*session.Cart, bool)
	ClearCart(conversationID string) string
}

// Result is a tool outcome: either plain text or a value sent as JSON.
type Result struct {
	Text  string
	Value any
}

func textResult(s string) Result { return Result{Text: s} }

func valueResult(v any) Result { return Result{Value: v} }

// Content renders the result for a tool message.
func (r Result) Content() string {
	if r.Value == nil {
		return r.Text
	}
	b, err := json.Marshal(r.Value)
	if err != nil {
		return ErrorContent(fmt.Errorf("encode result: %w", err))
	}
	return string(b)
}

type cartView struct {
	ConversationID string             `json:"conversationId"`
	Items          []session.CartItem `json:"items"`
	Total          float64            `json:"total"`
}

type Dispatcher struct {
	catalog Catalog
	carts   Carts
}

func NewDispatcher(c Catalog, carts Carts) (*Dispatcher, error) {
	if c == nil {
		return nil, errors.New("catalog is required")
	}
	if carts == nil {
		return nil, errors.New("cart manager is required")
	}
	return &Dispatcher{catalog: c, carts: carts}, nil
}

// Dispatch executes one model-requested call. An explicit conversationId
// argument takes precedence over conversationID.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, call schema.ToolCall) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		return Result{}, err
	}
	if id := args.str("conversationId"); id != "" {
		conversationID = id
	}

	switch call.Function.Name {
	case GetProductsByCategory:
		return valueResult(d.catalog.ByCategory(args.str("category"))), nil
	case SuggestProductsByKeyword:
		return valueResult(d.catalog.SearchKeyword(args.str("keywords"))), nil
	case SuggestProductsByDescription:
		return valueResult(d.catalog.SearchDescription(args.str("description"))), nil
	case GetCategories:
		return valueResult(d.catalog.Categories()), nil
	case GetNewestProducts:
		count, _ := args.int("count")
		return valueResult(d.catalog.Newest(count)), nil
	case GetAllProducts:
		return valueResult(d.catalog.Products()), nil
	case AddToCartByName:
		return textResult(d.carts.AddByName(conversationID, args.str("productName"))), nil
	case RemoveFromCartByName:
		return textResult(d.carts.RemoveByName(conversationID, args.str("productName"))), nil
	case GetCart:
		cart, ok := d.carts.GetCart(conversationID)
		if !ok {
			return textResult("The cart is empty."), nil
		}
		return valueResult(cartView{
			ConversationID: cart.ConversationID,
			Items:          cart.Items,
			Total:          math.Round(cart.Total()*100) / 100,
		}), nil
	case ClearCart:
		return textResult(d.carts.ClearCart(conversationID)), nil
	default:
		return Result{}, fmt.Errorf("%w %q", ErrUnknownTool, call.Function.Name)
	}
}

type arguments map[string]any

func parseArguments(raw string) (arguments, error) {
	args := make(arguments)
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("parse arguments failed: %w", err)
	}
	return args, nil
}

func (a arguments) str(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// maxIntArg bounds integer tool arguments.
const maxIntArg = math.MaxInt32

func (a arguments) int(key string) (int, bool) {
	switch v := a[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(max(min(n, maxIntArg), -maxIntArg)), true
		}
		if f, err := v.Float64(); err == nil {
			return int(math.Max(math.Min(f, maxIntArg), -maxIntArg)), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ErrorContent renders err as the JSON body of a failed tool message.
func ErrorContent(err error) string {
	b, _ := json.Marshal(map[string]string{"error": strings.ReplaceAll(err.Error(), "\n", " ")})
	return string(b)
}

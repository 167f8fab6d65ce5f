package allvalue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// AccessTokenHeader carries the shop access token on every GraphQL call.
const AccessTokenHeader = "Custom-AllValue-Access-Token"

const (
	DefaultPageSize = 50
	defaultTimeout  = 10 * time.Second
	maxErrorBody    = 512
)

const orderDetailsQuery = `query OrderDetails($nodeId: NodeID!) { order(nodeId: $nodeId) { name, createdAt, contactEmail, customerMessage, shippingAddress { firstName, lastName, phone, address1, address2, zip, countryCode }, lineItems { name, quantity, optionValues { name } }, totalPrice { shopMoney { amount, currencyCode } }, customer { firstName, lastName } } }`

const ordersQuery = `query Orders($query: String!, $first: Int!, $after: String) { orders(query: $query, first: $first, after: $after) { edges { cursor, node { nodeId, name } }, pageInfo { hasNextPage } } }`

type Options struct {
	Endpoint        string
	Timeout         time.Duration
	RateLimitPerMin int
	HTTPClient      *http.Client
}

// Client talks to the shop's GraphQL admin API.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("allvalue graphql endpoint is empty")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if opts.RateLimitPerMin > 0 {
		burst := opts.RateLimitPerMin / 60
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RateLimitPerMin)), burst)
	}
	return &Client{endpoint: endpoint, http: httpClient, limiter: limiter}, nil
}

// FetchOrder returns the detail document of one order.
func (c *Client) FetchOrder(ctx context.Context, token, nodeId string) (RawOrder, error) {
	var data orderDetailsData
	err := c.do(ctx, "fetch order", token, graphQLRequest{
		Query:     orderDetailsQuery,
		Variables: map[string]interface{}{"nodeId": nodeId},
	}, &data)
	if err != nil {
		return RawOrder{}, err
	}
	if data.Order == nil {
		return RawOrder{}, &UpstreamError{Op: "fetch order", Message: fmt.Sprintf("order %s not found", nodeId)}
	}
	return *data.Order, nil
}

// CreatedRangeFilter is the server-side filter for paid orders created in [start, end].
func CreatedRangeFilter(start, end time.Time) string {
	return fmt.Sprintf("created_at_range:[%d TO %d] AND financial_state:PAID", start.UnixMilli(), end.UnixMilli())
}

// ListCreatedBetween pages through paid orders created between start and end.
// Iteration stops after the first error, which is yielded with a zero summary.
func (c *Client) ListCreatedBetween(ctx context.Context, token string, start, end time.Time, pageSize int) iter.Seq2[OrderSummary, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	filter := CreatedRangeFilter(start, end)
	return func(yield func(OrderSummary, error) bool) {
		var after interface{}
		for {
			var data ordersData
			err := c.do(ctx, "list orders", token, graphQLRequest{
				Query: ordersQuery,
				Variables: map[string]interface{}{
					"query": filter,
					"first": pageSize,
					"after": after,
				},
			}, &data)
			if err != nil {
				yield(OrderSummary{}, err)
				return
			}

			edges := data.Orders.Edges
			for _, edge := range edges {
				if edge.Node == nil || edge.Node.NodeId == "" {
					continue
				}
				if !yield(*edge.Node, nil) {
					return
				}
			}
			if !data.Orders.PageInfo.HasNextPage || len(edges) == 0 {
				return
			}
			cursor := edges[len(edges)-1].Cursor
			if cursor == "" {
				return
			}
			after = cursor
		}
	}
}

func (c *Client) do(ctx context.Context, op, token string, payload graphQLRequest, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &UpstreamError{Op: op, Err: err}
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(AccessTokenHeader, token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	var parsed graphQLResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return &UpstreamError{Op: op, Message: "graphql: " + strings.Join(msgs, "; ")}
	}
	if len(parsed.Data) == 0 || string(parsed.Data) == "null" {
		return &UpstreamError{Op: op, Message: "empty data"}
	}
	if err := json.Unmarshal(parsed.Data, out); err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

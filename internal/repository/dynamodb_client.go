package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"vibe-trader/internal/domain"
)

const (
	pkLedger      = "LEDGER"
	pkLeaderboard = "LEADERBOARD"
	skPrefixTx    = "TX#"
	skPrefixUser  = "USER#"
	skPrefixDay   = "DAY#"
	quotaTTL      = 48 * time.Hour // counters outlive their day by one more
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores quota counters, the trade ledger and the leaderboard cache
// in a single DynamoDB table keyed by PK/SK.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func quotaPK(identity string) string {
	return "QUOTA#" + identity
}

func quotaKey(identity, day string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: quotaPK(identity)},
		"SK": &types.AttributeValueMemberS{Value: skPrefixDay + day},
	}
}

// QuotaCount returns the number of admitted calls for identity on day.
func (c *Client) QuotaCount(ctx context.Context, identity, day string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            quotaKey(identity, day),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: QuotaCount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	n, err := intAttr(out.Item, "count")
	if err != nil {
		return 0, fmt.Errorf("repository: QuotaCount decode count: %w", err)
	}
	return n, nil
}

// IncrementQuota atomically adds one to the (identity, day) counter,
// creating it on first use, and returns the new count.
func (c *Client) IncrementQuota(ctx context.Context, identity string, class domain.IdentityClass, day string) (int, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              quotaKey(identity, day),
		UpdateExpression: aws.String("ADD #count :one SET #class = :class, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
			"#class": "class",
			"#ttl":   "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":class": &types.AttributeValueMemberS{Value: string(class)},
			":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().Add(quotaTTL).Unix(), 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementQuota: %w", err)
	}
	if out == nil {
		return 0, errors.New("repository: IncrementQuota: empty response")
	}
	n, err := intAttr(out.Attributes, "count")
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementQuota decode count: %w", err)
	}
	return n, nil
}

// ResetQuota deletes the (identity, day) counter.
func (c *Client) ResetQuota(ctx context.Context, identity, day string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       quotaKey(identity, day),
	})
	if err != nil {
		return fmt.Errorf("repository: ResetQuota: %w", err)
	}
	return nil
}

// AppendTrade writes rec keyed by its transaction signature. A second write
// for the same signature returns ErrDuplicateTrade.
func (c *Client) AppendTrade(ctx context.Context, rec domain.TradeRecord) error {
	if rec.TxSignature == "" {
		return errors.New("repository: AppendTrade: tx signature is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                tradeItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicateTrade
		}
		return fmt.Errorf("repository: AppendTrade: %w", err)
	}
	return nil
}

// ListTrades returns every ledger row ordered newest first.
func (c *Client) ListTrades(ctx context.Context) ([]domain.TradeRecord, error) {
	items, err := c.queryAll(ctx, pkLedger, skPrefixTx)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTrades query: %w", err)
	}
	trades := make([]domain.TradeRecord, 0, len(items))
	for _, item := range items {
		rec, err := itemToTrade(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTrades unmarshal: %w", err)
		}
		trades = append(trades, rec)
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp > trades[j].Timestamp })
	return trades, nil
}

// UpdateTradeSymbol sets the display symbol of a trade that is still
// UNKNOWN. Resolved or missing trades are left alone.
func (c *Client) UpdateTradeSymbol(ctx context.Context, txSignature, symbol string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkLedger},
			"SK": &types.AttributeValueMemberS{Value: skPrefixTx + txSignature},
		},
		UpdateExpression:    aws.String("SET tokenSymbol = :symbol"),
		ConditionExpression: aws.String("attribute_exists(PK) AND tokenSymbol = :unknown"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":symbol":  &types.AttributeValueMemberS{Value: symbol},
			":unknown": &types.AttributeValueMemberS{Value: domain.UnknownSymbol},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("repository: UpdateTradeSymbol: %w", err)
	}
	return nil
}

// ActiveTokens returns each distinct acquired token address once.
func (c *Client) ActiveTokens(ctx context.Context) ([]string, error) {
	trades, err := c.ListTrades(ctx)
	if err != nil {
		return nil, err
	}
	return distinctTokens(trades), nil
}

// Leaderboard ranks users with at least one trade.
func (c *Client) Leaderboard(ctx context.Context, by domain.LeaderboardSort, limit, offset int) ([]domain.LeaderboardEntry, error) {
	rows, err := c.leaderRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: Leaderboard: %w", err)
	}
	return rankRows(rows, by, limit, offset), nil
}

func (c *Client) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	trades, err := c.ListTrades(ctx)
	if err != nil {
		return domain.GlobalStats{}, fmt.Errorf("repository: GlobalStats: %w", err)
	}
	rows, err := c.leaderRows(ctx)
	if err != nil {
		return domain.GlobalStats{}, fmt.Errorf("repository: GlobalStats: %w", err)
	}
	return summarize(trades, rows), nil
}

func (c *Client) UserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	rows, err := c.leaderRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: UserStats: %w", err)
	}
	return userStats(rows, userID), nil
}

func (c *Client) leaderRows(ctx context.Context) ([]leaderRow, error) {
	items, err := c.queryAll(ctx, pkLeaderboard, skPrefixUser)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	rows := make([]leaderRow, 0, len(items))
	for _, item := range items {
		row, err := itemToLeaderRow(item)
		if err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// queryAll follows LastEvaluatedKey until the partition is exhausted.
func (c *Client) queryAll(ctx context.Context, pk, prefix string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return items, nil
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func tradeItem(rec domain.TradeRecord) map[string]types.AttributeValue {
	symbol := rec.TokenSymbol
	if symbol == "" {
		symbol = domain.UnknownSymbol
	}
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: pkLedger},
		"SK":            &types.AttributeValueMemberS{Value: skPrefixTx + rec.TxSignature},
		"id":            &types.AttributeValueMemberS{Value: rec.ID},
		"tokenAddress":  &types.AttributeValueMemberS{Value: rec.TokenAddress},
		"tokenSymbol":   &types.AttributeValueMemberS{Value: symbol},
		"amountSol":     numAttr(rec.AmountSol),
		"amountToken":   numAttr(rec.AmountToken),
		"pricePerToken": numAttr(rec.PricePerToken),
		"reasoning":     &types.AttributeValueMemberS{Value: rec.Reasoning},
		"txSignature":   &types.AttributeValueMemberS{Value: rec.TxSignature},
		"timestamp":     &types.AttributeValueMemberS{Value: rec.Timestamp},
	}
	if rec.UserID != "" {
		item["userId"] = &types.AttributeValueMemberS{Value: rec.UserID}
		item["userType"] = &types.AttributeValueMemberS{Value: rec.UserType}
	}
	return item
}

func itemToTrade(item map[string]types.AttributeValue) (domain.TradeRecord, error) {
	var (
		rec domain.TradeRecord
		err error
	)
	if rec.TxSignature, err = strAttr(item, "txSignature"); err != nil {
		return rec, err
	}
	if rec.TokenAddress, err = strAttr(item, "tokenAddress"); err != nil {
		return rec, err
	}
	if rec.AmountSol, err = floatAttr(item, "amountSol"); err != nil {
		return rec, err
	}
	if rec.AmountToken, err = floatAttr(item, "amountToken"); err != nil {
		return rec, err
	}
	rec.PricePerToken, _ = floatAttr(item, "pricePerToken")
	rec.ID, _ = strAttr(item, "id")
	rec.TokenSymbol, _ = strAttr(item, "tokenSymbol")
	rec.Reasoning, _ = strAttr(item, "reasoning")
	rec.Timestamp, _ = strAttr(item, "timestamp")
	rec.UserID, _ = strAttr(item, "userId")     // allow empty
	rec.UserType, _ = strAttr(item, "userType") // allow empty
	return rec, nil
}

func itemToLeaderRow(item map[string]types.AttributeValue) (leaderRow, error) {
	var (
		row leaderRow
		err error
	)
	e := &row.entry
	if e.UserID, err = strAttr(item, "userId"); err != nil {
		return row, err
	}
	if e.TotalTrades, err = intAttr(item, "totalTrades"); err != nil {
		return row, err
	}
	e.UserType, _ = strAttr(item, "userType")
	e.TotalInvestedSol, _ = floatAttr(item, "totalInvestedSol")
	e.TotalPnlUSD, _ = floatAttr(item, "totalPnlUsd")
	e.WinRate, _ = floatAttr(item, "winRate")
	row.winCount, _ = intAttr(item, "winCount")
	row.lastUpdated, _ = strAttr(item, "lastUpdated")
	return row, nil
}

func numAttr(f float64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func numberAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a number", key)
	}
	return n.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	raw, err := numberAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	raw, err := numberAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

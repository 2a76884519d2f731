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

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
)

const (
	skPrefixTurn = "MSG#"
	skMeta       = "META#"
	ttlDuration  = 90 * 24 * time.Hour

	statusComplete = "complete"

	// timeLayout is fixed width so sort keys order chronologically.
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// ErrNotFound is returned when a conversation has no metadata record.
var ErrNotFound = fmt.Errorf("repository: %w", domain.ErrConversationNotFound)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores conversations in a single table: one META# item per
// conversation and one MSG#<timestamp> item per completed turn.
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

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(timeLayout)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

func (c *Client) key(conversationID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// GetHistory returns up to limit of the most recent turns, oldest first.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.StoredTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Newest first so Limit keeps the latest context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	turns, err := itemsToTurns(out.Items)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// GetTurns returns every stored turn of a conversation in chronological order.
func (c *Client) GetTurns(ctx context.Context, conversationID string) ([]domain.StoredTurn, error) {
	var (
		turns []domain.StoredTurn
		start map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: GetTurns query: %w", err)
		}
		page, err := itemsToTurns(out.Items)
		if err != nil {
			return nil, fmt.Errorf("repository: GetTurns unmarshal: %w", err)
		}
		turns = append(turns, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		start = out.LastEvaluatedKey
	}
}

// GetConversationMeta reads the META# item. found is false when the
// conversation was never persisted.
func (c *Client) GetConversationMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(conversationID, skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationMeta{}, false, fmt.Errorf("repository: GetConversationMeta get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationMeta{}, false, nil
	}
	meta, err := itemToMeta(out.Item)
	if err != nil {
		return domain.ConversationMeta{}, false, fmt.Errorf("repository: GetConversationMeta decode: %w", err)
	}
	return meta, true, nil
}

// GetConversationTurnCount returns the persisted turn count, zero for an
// unknown conversation.
func (c *Client) GetConversationTurnCount(ctx context.Context, conversationID string) (int, error) {
	meta, _, err := c.GetConversationMeta(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	return meta.Turns, nil
}

// SaveCompletedTurn writes the turn and bumps the conversation metadata in one
// transaction. createdAt is only set by the first turn.
func (c *Client) SaveCompletedTurn(ctx context.Context, conversationID, question, answer string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: SaveCompletedTurn: conversation id is required")
	}
	now := c.now().UTC()
	ttl := strconv.FormatInt(c.ttlValue(), 10)
	turn := domain.StoredTurn{
		PK:             convPK(conversationID),
		SK:             turnSK(now),
		ConversationID: conversationID,
		Text:           question,
		Answer:         answer,
		Status:         statusComplete,
		CreatedAt:      now.Format(timeLayout),
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn, ttl),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key:       c.key(conversationID, skMeta),
					UpdateExpression: aws.String("SET conversationId = :cid, lastActivity = :now, #ttl = :ttl, " +
						"createdAt = if_not_exists(createdAt, :now) ADD turns :one"),
					ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":cid": &types.AttributeValueMemberS{Value: conversationID},
						":now": &types.AttributeValueMemberS{Value: turn.CreatedAt},
						":ttl": &types.AttributeValueMemberN{Value: ttl},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

// ListConversationMetas scans every META# item, newest conversation first.
func (c *Client) ListConversationMetas(ctx context.Context) ([]domain.ConversationMeta, error) {
	var (
		metas []domain.ConversationMeta
		start map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.tableName),
			FilterExpression: aws.String("SK = :meta"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":meta": &types.AttributeValueMemberS{Value: skMeta},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversationMetas scan: %w", err)
		}
		for _, item := range out.Items {
			meta, err := itemToMeta(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListConversationMetas decode: %w", err)
			}
			metas = append(metas, meta)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].CreatedAt > metas[j].CreatedAt
	})
	return metas, nil
}

// RecordFeedback stores a rating on an existing conversation.
func (c *Client) RecordFeedback(ctx context.Context, conversationID string, rating int, resolved bool) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 c.key(conversationID, skMeta),
		UpdateExpression:    aws.String("SET rating = :rating, resolved = :resolved"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rating":   &types.AttributeValueMemberN{Value: strconv.Itoa(rating)},
			":resolved": &types.AttributeValueMemberBOOL{Value: resolved},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: RecordFeedback: %w", err)
	}
	return nil
}

func itemsToTurns(items []map[string]types.AttributeValue) ([]domain.StoredTurn, error) {
	turns := make([]domain.StoredTurn, 0, len(items))
	for _, item := range items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.StoredTurn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.StoredTurn{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.StoredTurn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.StoredTurn{}, err
	}
	answer, _ := strAttr(item, "answer")
	status, _ := strAttr(item, "status")
	conversationID, _ := strAttr(item, "conversationId")
	createdAt, _ := strAttr(item, "createdAt")
	if createdAt == "" {
		createdAt = strings.TrimPrefix(sk, skPrefixTurn)
	}

	return domain.StoredTurn{
		PK:             pk,
		SK:             sk,
		ConversationID: conversationID,
		Text:           text,
		Answer:         answer,
		Status:         status,
		CreatedAt:      createdAt,
	}, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.ConversationMeta, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.ConversationMeta{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.ConversationMeta{}, fmt.Errorf("decode turns: %w", err)
	}
	conversationID, _ := strAttr(item, "conversationId")
	if conversationID == "" {
		conversationID = strings.TrimPrefix(pk, "CONV#")
	}
	createdAt, _ := strAttr(item, "createdAt")
	lastActivity, _ := strAttr(item, "lastActivity")
	rating, _ := intAttr(item, "rating")
	var resolved bool
	if b, ok := item["resolved"].(*types.AttributeValueMemberBOOL); ok {
		resolved = b.Value
	}

	return domain.ConversationMeta{
		PK:             pk,
		SK:             skMeta,
		ConversationID: conversationID,
		CreatedAt:      createdAt,
		LastActivity:   lastActivity,
		Turns:          turns,
		Resolved:       resolved,
		Rating:         rating,
	}, nil
}

func turnItem(turn domain.StoredTurn, ttl string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: turn.PK},
		"SK":             &types.AttributeValueMemberS{Value: turn.SK},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"text":           &types.AttributeValueMemberS{Value: turn.Text},
		"answer":         &types.AttributeValueMemberS{Value: turn.Answer},
		"status":         &types.AttributeValueMemberS{Value: turn.Status},
		"createdAt":      &types.AttributeValueMemberS{Value: turn.CreatedAt},
		"ttl":            &types.AttributeValueMemberN{Value: ttl},
	}
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

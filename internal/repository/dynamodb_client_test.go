package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut     *dynamodb.GetItemOutput
	getErr     error
	queryPages []*dynamodb.QueryOutput
	queryErr   error
	scanPages  []*dynamodb.ScanOutput
	scanErr    error
	updateErr  error
	txErr      error

	lastGetInput *dynamodb.GetItemInput
	queryInputs  []*dynamodb.QueryInput
	scanInputs   []*dynamodb.ScanInput
	lastUpdate   *dynamodb.UpdateItemInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	i := len(f.queryInputs) - 1
	if i >= len(f.queryPages) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryPages[i], nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanInputs = append(f.scanInputs, in)
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	i := len(f.scanInputs) - 1
	if i >= len(f.scanPages) {
		return &dynamodb.ScanOutput{}, nil
	}
	return f.scanPages[i], nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func turnRecord(conv, sk, text, answer string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conv)},
		"SK":             &types.AttributeValueMemberS{Value: sk},
		"conversationId": &types.AttributeValueMemberS{Value: conv},
		"text":           &types.AttributeValueMemberS{Value: text},
		"answer":         &types.AttributeValueMemberS{Value: answer},
		"status":         &types.AttributeValueMemberS{Value: statusComplete},
	}
}

func metaRecord(conv, createdAt string, turns int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conv)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: conv},
		"createdAt":      &types.AttributeValueMemberS{Value: createdAt},
		"lastActivity":   &types.AttributeValueMemberS{Value: createdAt},
		"turns":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turns)},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC) }
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "test-table")
	require.ErrorContains(t, err, "must not be nil")

	_, err = New(&fakeDynamo{}, " ")
	require.ErrorContains(t, err, "must not be empty")
}

func TestGetConversationMeta(t *testing.T) {
	item := metaRecord("abc", "2026-03-01T10:00:00.000000Z", 3)
	item["rating"] = &types.AttributeValueMemberN{Value: "5"}
	item["resolved"] = &types.AttributeValueMemberBOOL{Value: true}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	meta, found, err := c.GetConversationMeta(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "abc", meta.ConversationID)
	require.Equal(t, 3, meta.Turns)
	require.Equal(t, 5, meta.Rating)
	require.True(t, meta.Resolved)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "CONV#abc", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestGetConversationMeta_Missing(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, found, err := c.GetConversationMeta(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, found)

	turns, err := c.GetConversationTurnCount(context.Background(), "abc")
	require.NoError(t, err)
	require.Zero(t, turns)
}

func TestGetConversationMeta_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.GetConversationTurnCount(context.Background(), "abc")
	require.ErrorContains(t, err, "GetConversationMeta")

	bad := metaRecord("abc", "", 0)
	bad["turns"] = &types.AttributeValueMemberS{Value: "bad"}
	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: bad}})
	_, _, err = c.GetConversationMeta(context.Background(), "abc")
	require.ErrorContains(t, err, "decode turns")
}

func TestGetHistory_ReordersNewestFirstToChronological(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			turnRecord("abc", "MSG#2026-03-01T12:00:00.000000Z", "newer", "b"),
			turnRecord("abc", "MSG#2026-03-01T11:00:00.000000Z", "older", "a"),
		},
	}}}
	c := mustNewClient(t, db)

	turns, err := c.GetHistory(context.Background(), "abc", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "older", turns[0].Text)
	require.Equal(t, "2026-03-01T11:00:00.000000Z", turns[0].CreatedAt)
	require.Equal(t, "newer", turns[1].Text)

	in := db.queryInputs[0]
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *in.KeyConditionExpression)
	require.False(t, *in.ScanIndexForward)
	require.Equal(t, int32(10), *in.Limit)
}

func TestGetHistory_ZeroLimit(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	turns, err := c.GetHistory(context.Background(), "abc", 0)
	require.NoError(t, err)
	require.Empty(t, turns)
	require.Empty(t, db.queryInputs)
}

func TestGetHistory_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.GetHistory(context.Background(), "abc", 5)
	require.ErrorContains(t, err, "GetHistory")

	c = mustNewClient(t, &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{{
			"PK": &types.AttributeValueMemberS{Value: "CONV#abc"},
			"SK": &types.AttributeValueMemberS{Value: "MSG#ts"},
		}},
	}}})
	_, err = c.GetHistory(context.Background(), "abc", 5)
	require.ErrorContains(t, err, `"text"`)
}

func TestGetTurns_Paginates(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{turnRecord("abc", "MSG#1", "q1", "a1")},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "CONV#abc"}},
		},
		{
			Items: []map[string]types.AttributeValue{turnRecord("abc", "MSG#2", "q2", "a2")},
		},
	}}
	c := mustNewClient(t, db)

	turns, err := c.GetTurns(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "q1", turns[0].Text)
	require.Equal(t, "a2", turns[1].Answer)
	require.Len(t, db.queryInputs, 2)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestSaveCompletedTurn(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.SaveCompletedTurn(context.Background(), "abc", "When is the trip?", "Friday.")
	require.NoError(t, err)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	put := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *put.ConditionExpression)
	require.Equal(t, "MSG#2026-03-02T08:30:00.000000Z", put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Friday.", put.Item["answer"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "When is the trip?", put.Item["text"].(*types.AttributeValueMemberS).Value)

	upd := db.lastTxInput.TransactItems[1].Update
	require.Contains(t, *upd.UpdateExpression, "if_not_exists(createdAt, :now)")
	require.Contains(t, *upd.UpdateExpression, "ADD turns :one")
	require.Equal(t, "ttl", upd.ExpressionAttributeNames["#ttl"])
	require.Equal(t, skMeta, upd.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestSaveCompletedTurn_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("transaction canceled")})
	err := c.SaveCompletedTurn(context.Background(), "abc", "q", "a")
	require.ErrorContains(t, err, "SaveCompletedTurn")

	err = c.SaveCompletedTurn(context.Background(), " ", "q", "a")
	require.ErrorContains(t, err, "conversation id is required")
}

func TestListConversationMetas_SortsNewestFirstAcrossPages(t *testing.T) {
	db := &fakeDynamo{scanPages: []*dynamodb.ScanOutput{
		{
			Items: []map[string]types.AttributeValue{
				metaRecord("old", "2026-01-01T00:00:00.000000Z", 1),
			},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "CONV#old"}},
		},
		{
			Items: []map[string]types.AttributeValue{
				metaRecord("new", "2026-02-01T00:00:00.000000Z", 4),
			},
		},
	}}
	c := mustNewClient(t, db)

	metas, err := c.ListConversationMetas(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, "new", metas[0].ConversationID)
	require.Equal(t, "old", metas[1].ConversationID)
	require.Equal(t, "SK = :meta", *db.scanInputs[0].FilterExpression)
	require.Len(t, db.scanInputs, 2)
}

func TestListConversationMetas_Error(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{scanErr: errors.New("throttled")})
	_, err := c.ListConversationMetas(context.Background())
	require.ErrorContains(t, err, "throttled")
}

func TestRecordFeedback(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.RecordFeedback(context.Background(), "abc", 4, true))
	require.Equal(t, "attribute_exists(PK)", aws.ToString(db.lastUpdate.ConditionExpression))
	require.Equal(t, "4", db.lastUpdate.ExpressionAttributeValues[":rating"].(*types.AttributeValueMemberN).Value)
	require.True(t, db.lastUpdate.ExpressionAttributeValues[":resolved"].(*types.AttributeValueMemberBOOL).Value)
}

func TestRecordFeedback_UnknownConversation(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("failed")}})
	err := c.RecordFeedback(context.Background(), "missing", 3, false)
	require.ErrorIs(t, err, ErrNotFound)

	c = mustNewClient(t, &fakeDynamo{updateErr: errors.New("boom")})
	err = c.RecordFeedback(context.Background(), "abc", 3, false)
	require.ErrorContains(t, err, "RecordFeedback")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "CONV#my-conv", convPK("my-conv"))
	ts := time.Date(2026, 2, 25, 10, 0, 0, 0, time.FixedZone("x", 3600))
	require.Equal(t, "MSG#2026-02-25T09:00:00.000000Z", turnSK(ts))
}

package core_test

import (
	"regexp"
	"testing"

	"github.com/leandroluk/golemref/core"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name      string
		condition *core.Condition
		expected  bson.M
	}{
		{"NilCondition", nil, bson.M{}},
		{"Empty", core.Empty(), bson.M{}},
		{"Eq", core.Field("name").Eq("Ada"), bson.M{"name": "Ada"}},
		{"Ne", core.Field("name").Ne("Ada"), bson.M{"name": bson.M{"$ne": "Ada"}}},
		{"Gt", core.Field("age").Gt(18), bson.M{"age": bson.M{"$gt": 18}}},
		{"Gte", core.Field("age").Gte(18), bson.M{"age": bson.M{"$gte": 18}}},
		{"Lt", core.Field("age").Lt(18), bson.M{"age": bson.M{"$lt": 18}}},
		{"Lte", core.Field("age").Lte(18), bson.M{"age": bson.M{"$lte": 18}}},
		{"Nil", core.Field("deletedAt").Nil(), bson.M{"deletedAt": bson.M{"$eq": nil}}},
		{"In", core.Field("age").In(1, 2), bson.M{"age": bson.M{"$in": []any{1, 2}}}},
		{"InSingle", core.Field("age").In(1), bson.M{"age": bson.M{"$in": []any{1}}}},
		{"Like", core.Field("name").Like("a%"), bson.M{"name": primitive.Regex{Pattern: "^a.*$", Options: "i"}}},
		{
			"And",
			core.Field("a").Eq(1).And(core.Field("b").Eq(2)),
			bson.M{"$and": []bson.M{{"a": 1}, {"b": 2}}},
		},
		{
			"AndDropsEmpty",
			core.Field("a").Eq(1).And(core.Empty(), nil),
			bson.M{"a": 1},
		},
		{
			"Or",
			core.Field("a").Eq(1).Or(core.Field("b").Eq(2)),
			bson.M{"$or": []bson.M{{"a": 1}, {"b": 2}}},
		},
		{
			"OrWithEmptyBranchMatchesAll",
			core.Field("a").Eq(1).Or(core.Empty()),
			bson.M{},
		},
		{
			"AndKeepsOrWithEmptyBranchOut",
			core.Field("b").Eq(2).And(core.Field("a").Eq(1).Or(nil)),
			bson.M{"b": 2},
		},
		{
			"Not",
			core.Field("a").Eq(1).Not(),
			bson.M{"$nor": []bson.M{{"a": 1}}},
		},
		{
			"NotEmptyMatchesNothing",
			core.Empty().Not(),
			bson.M{"_id": bson.M{"$exists": false}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, core.BuildFilter(tt.condition))
		})
	}
}

func TestConditionIsEmpty(t *testing.T) {
	var missing *core.Condition
	assert.True(t, missing.IsEmpty())
	assert.True(t, core.Empty().IsEmpty())
	assert.True(t, core.Empty().And(core.Empty()).IsEmpty())
	assert.False(t, core.ByID(1).IsEmpty())
	assert.False(t, core.Field("a").Eq(1).Not().IsEmpty())
	assert.True(t, core.Field("a").Eq(1).Or(core.Empty()).IsEmpty())
	assert.False(t, core.Field("a").Eq(1).Or(core.Field("b").Eq(2)).IsEmpty())
	assert.False(t, core.Empty().Not().IsEmpty())
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		matches  []string
		rejects  []string
	}{
		{"a%", "^a.*$", []string{"a", "alpha"}, []string{"beta"}},
		{"%admin_", "^.*admin.$", []string{"superadmins", "admin1"}, []string{"admin", "admins!!"}},
		{"_lpha", "^.lpha$", []string{"alpha"}, []string{"lpha", "aalpha"}},
		{"a.b", `^a\.b$`, []string{"a.b"}, []string{"axb"}},
		{"50%_(x)", `^50.*.\(x\)$`, []string{"500!(x)"}, []string{"50(x)"}},
		{"", "^$", []string{""}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pattern := core.LikePattern(tt.input)
			assert.Equal(t, tt.expected, pattern)

			compiled := regexp.MustCompile(pattern)
			for _, candidate := range tt.matches {
				assert.True(t, compiled.MatchString(candidate), candidate)
			}
			for _, candidate := range tt.rejects {
				assert.False(t, compiled.MatchString(candidate), candidate)
			}
		})
	}
}

func TestEqualityFields(t *testing.T) {
	condition := core.ByID("u1").
		And(core.Field("profile.team").Eq("core"), core.Field("age").Gt(3)).
		And(core.Field("x").Eq(1).Or(core.Field("y").Eq(2)))

	assert.Equal(t, bson.D{
		{Key: "_id", Value: "u1"},
		{Key: "profile.team", Value: "core"},
	}, core.EqualityFields(condition))
	assert.Empty(t, core.EqualityFields(nil))
}

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoETL.
//
// GoETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoETL. If not, see https://www.gnu.org/licenses/.

package readers

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestNewMongoReader_Validation(t *testing.T) {
	_, err := NewMongoReader()
	var mErr *MongoReaderError
	require.True(t, errors.As(err, &mErr))
	assert.Equal(t, "validate", mErr.Op)

	_, err = NewMongoReader(WithMongoCollection("db", "c"), WithMongoReadPreference("sometimes"))
	assert.Error(t, err)

	r, err := NewMongoReader(WithMongoCollection("db", "c"), WithMongoSort(SortKeys("day")...))
	require.NoError(t, err)
	assert.Equal(t, int32(1000), r.opts.BatchSize)
	assert.NoError(t, r.Close(), "closing an unopened reader is a no-op")
}

func TestSortDocument(t *testing.T) {
	doc := sortDocument([]SortKey{{Column: "store"}, {Column: "day", Desc: true}})
	assert.Equal(t, bson.D{{Key: "store", Value: 1}, {Key: "day", Value: -1}}, doc)
}

func TestAggregationPipeline(t *testing.T) {
	r, err := NewMongoReader(
		WithMongoCollection("db", "c"),
		WithMongoPipeline([]bson.M{{"$match": bson.M{"ok": true}}}),
		WithMongoSort(SortKeys("day")...),
	)
	require.NoError(t, err)

	stages := r.aggregationPipeline()
	require.Len(t, stages, 2)
	assert.Equal(t, "$match", stages[0][0].Key)
	assert.Equal(t, bson.D{{Key: "$sort", Value: bson.D{{Key: "day", Value: 1}}}}, stages[1])
}

func TestConvertBSONValue(t *testing.T) {
	id := primitive.NewObjectID()
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dec, err := primitive.ParseDecimal128("12.75")
	require.NoError(t, err)

	assert.Equal(t, id.Hex(), convertBSONValue(id))
	assert.Equal(t, when, convertBSONValue(primitive.NewDateTimeFromTime(when)))
	assert.Equal(t, 12.75, convertBSONValue(dec))
	assert.Equal(t, int64(3), convertBSONValue(int32(3)))
	assert.Nil(t, convertBSONValue(primitive.Null{}))
	assert.Equal(t, []interface{}{int64(1), "x"}, convertBSONValue(bson.A{int32(1), "x"}))
	assert.Equal(t, map[string]interface{}{"n": int64(2)}, convertBSONValue(bson.M{"n": int32(2)}))
}

func TestMongoReader_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(ctx)
	coll := client.Database("goetl_agg_test").Collection("sales")
	require.NoError(t, coll.Drop(ctx))
	_, err = coll.InsertMany(ctx, []interface{}{
		bson.M{"day": 2, "amt": 5},
		bson.M{"day": 1, "amt": 20},
		bson.M{"day": 1, "amt": 10},
	})
	require.NoError(t, err)

	r, err := NewMongoReader(
		WithMongoURI(uri),
		WithMongoCollection("goetl_agg_test", "sales"),
		WithMongoFilter(nil, bson.M{"_id": 0}),
		WithMongoSort(SortKey{Column: "day"}, SortKey{Column: "amt"}),
	)
	require.NoError(t, err)
	defer r.Close()

	var amts []interface{}
	for {
		rec, err := r.Read(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		amts = append(amts, rec["amt"])
	}
	assert.Equal(t, []interface{}{int64(10), int64(20), int64(5)}, amts)
}

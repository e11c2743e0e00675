// Package mongo is the MongoDB record store. Collections mirror the documents
// of the original service: empregados, fichas, usuarios and codigos.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"folhaponto/internal/core"
	"folhaponto/internal/log"
	"folhaponto/internal/store"
)

const (
	collEmployees = "empregados"
	collFichas    = "fichas"
	collAccounts  = "usuarios"
	collCodes     = "codigos"
)

type (
	employeeDoc struct {
		ID            primitive.ObjectID `bson:"_id"`
		NameKey       string             `bson:"nameKey"`
		core.Employee `bson:",inline"`
	}

	fichaDoc struct {
		ID         primitive.ObjectID `bson:"_id"`
		core.Ficha `bson:",inline"`
	}

	accountDoc struct {
		ID           primitive.ObjectID `bson:"_id"`
		core.Account `bson:",inline"`
	}
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Connect dials uri, ensures indexes and returns a store bound to database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &Store{client: client, db: client.Database(database), now: time.Now}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	slog.InfoContext(ctx, "Connected to MongoDB", log.FieldComponent, log.ComponentStorage, "database", database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collEmployees: {
			{Keys: bson.D{{Key: "cpf", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "nameKey", Value: 1}}},
		},
		collFichas: {
			{Keys: bson.D{{Key: "funcionario", Value: 1}}},
			{Keys: bson.D{{Key: "assinaturaToken", Value: 1}}},
			{
				Keys: bson.D{
					{Key: "funcionario", Value: 1},
					{Key: "mesReferencia", Value: 1},
					{Key: "anoReferencia", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		collAccounts: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes the database. Used by integration tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func objectID(id string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	return oid, err == nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
}

// --- employees

func (d employeeDoc) employee() core.Employee {
	e := d.Employee
	e.ID = d.ID.Hex()
	return e
}

func (s *Store) CreateEmployee(ctx context.Context, e core.Employee) (core.Employee, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	e.CreatedAt, e.UpdatedAt = now, now
	doc := employeeDoc{ID: primitive.NewObjectID(), NameKey: core.NameKey(e.Name), Employee: e}
	_, err := s.db.Collection(collEmployees).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return core.Employee{}, core.ErrDuplicateCPF
	}
	if err != nil {
		return core.Employee{}, fmt.Errorf("insert employee: %w", err)
	}
	return doc.employee(), nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (core.Employee, error) {
	oid, ok := objectID(id)
	if !ok {
		return core.Employee{}, notFound("employee", id)
	}
	var doc employeeDoc
	err := s.db.Collection(collEmployees).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Employee{}, notFound("employee", id)
	}
	if err != nil {
		return core.Employee{}, fmt.Errorf("get employee: %w", err)
	}
	return doc.employee(), nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	cur, err := s.db.Collection(collEmployees).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	var docs []employeeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode employees: %w", err)
	}
	out := make([]core.Employee, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.employee())
	}
	return out, nil
}

func (s *Store) FindEmployeeByIdentity(ctx context.Context, cpf, name string) (core.Employee, error) {
	var or bson.A
	if cpf != "" {
		or = append(or, bson.M{"cpf": cpf})
	}
	if key := core.NameKey(name); key != "" {
		or = append(or, bson.M{"nameKey": key})
	}
	if len(or) == 0 {
		return core.Employee{}, core.ErrNotFound
	}
	var doc employeeDoc
	err := s.db.Collection(collEmployees).
		FindOne(ctx, bson.M{"$or": or}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Employee{}, core.ErrNotFound
	}
	if err != nil {
		return core.Employee{}, fmt.Errorf("find employee: %w", err)
	}
	return doc.employee(), nil
}

func (s *Store) UpdateEmployee(ctx context.Context, e core.Employee) (core.Employee, error) {
	old, err := s.GetEmployee(ctx, e.ID)
	if err != nil {
		return core.Employee{}, err
	}
	oid, _ := objectID(e.ID)
	e.CreatedAt = old.CreatedAt
	e.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
	doc := employeeDoc{ID: oid, NameKey: core.NameKey(e.Name), Employee: e}
	res, err := s.db.Collection(collEmployees).ReplaceOne(ctx, bson.M{"_id": oid}, doc)
	if mongo.IsDuplicateKeyError(err) {
		return core.Employee{}, core.ErrDuplicateCPF
	}
	if err != nil {
		return core.Employee{}, fmt.Errorf("update employee: %w", err)
	}
	if res.MatchedCount == 0 {
		return core.Employee{}, notFound("employee", e.ID)
	}
	return doc.employee(), nil
}

func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	oid, ok := objectID(id)
	if !ok {
		return notFound("employee", id)
	}
	res, err := s.db.Collection(collEmployees).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	if res.DeletedCount == 0 {
		return notFound("employee", id)
	}
	return nil
}

func (s *Store) EmployeeExists(ctx context.Context, id string) (bool, error) {
	oid, ok := objectID(id)
	if !ok {
		return false, nil
	}
	n, err := s.db.Collection(collEmployees).CountDocuments(ctx, bson.M{"_id": oid}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("employee exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SetManagerSignatureAll(ctx context.Context, image string) (int, error) {
	res, err := s.db.Collection(collEmployees).UpdateMany(ctx, bson.M{}, bson.M{"$set": bson.M{
		"assinaturaGestor": image,
		"updatedAt":        s.now().UTC(),
	}})
	if err != nil {
		return 0, fmt.Errorf("broadcast manager signature: %w", err)
	}
	return int(res.MatchedCount), nil
}

// --- fichas

func (d fichaDoc) ficha() core.Ficha {
	f := d.Ficha
	f.ID = d.ID.Hex()
	if f.Days == nil {
		f.Days = []core.DayEntry{}
	}
	return f
}

func (s *Store) fichas() *mongo.Collection { return s.db.Collection(collFichas) }

func (s *Store) CreateFicha(ctx context.Context, f core.Ficha) (core.Ficha, error) {
	f = f.Normalized()
	doc := fichaDoc{ID: primitive.NewObjectID(), Ficha: f}
	if _, err := s.fichas().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.Ficha{}, core.ErrDuplicateFicha
		}
		return core.Ficha{}, fmt.Errorf("insert ficha: %w", err)
	}
	return doc.ficha(), nil
}

func (s *Store) findFicha(ctx context.Context, filter bson.M) (core.Ficha, error) {
	var doc fichaDoc
	err := s.fichas().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Ficha{}, core.ErrNotFound
	}
	if err != nil {
		return core.Ficha{}, fmt.Errorf("find ficha: %w", err)
	}
	return doc.ficha(), nil
}

func (s *Store) GetFicha(ctx context.Context, id string) (core.Ficha, error) {
	oid, ok := objectID(id)
	if !ok {
		return core.Ficha{}, notFound("ficha", id)
	}
	f, err := s.findFicha(ctx, bson.M{"_id": oid})
	if errors.Is(err, core.ErrNotFound) {
		return core.Ficha{}, notFound("ficha", id)
	}
	return f, err
}

func (s *Store) listFichas(ctx context.Context, filter bson.M) ([]core.Ficha, error) {
	cur, err := s.fichas().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list fichas: %w", err)
	}
	var docs []fichaDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode fichas: %w", err)
	}
	out := make([]core.Ficha, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ficha())
	}
	return out, nil
}

func (s *Store) ListFichas(ctx context.Context) ([]core.Ficha, error) {
	return s.listFichas(ctx, bson.M{})
}

func (s *Store) ListFichasByEmployee(ctx context.Context, employeeID string) ([]core.Ficha, error) {
	return s.listFichas(ctx, bson.M{"funcionario": employeeID})
}

func (s *Store) UpdateFicha(ctx context.Context, f core.Ficha, fields store.FichaField) (core.Ficha, error) {
	oid, ok := objectID(f.ID)
	if !ok {
		return core.Ficha{}, notFound("ficha", f.ID)
	}
	f = f.Normalized()
	set := bson.M{}
	if fields.Has(store.FichaDays) {
		set["diasDoMes"] = f.Days
	}
	if fields.Has(store.FichaSummary) {
		set["resumoGeral"] = f.Summary
	}
	if fields.Has(store.FichaHeader) {
		set["header"] = f.Header
	}
	if fields.Has(store.FichaManagerSignature) {
		set["assinatura"] = f.ManagerSignature
	}
	if fields.Has(store.FichaEmployeeSignature) {
		set["assinaturaFuncionario"] = f.EmployeeSignature
	}
	if len(set) == 0 {
		return s.GetFicha(ctx, f.ID)
	}
	var doc fichaDoc
	err := s.fichas().FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Ficha{}, notFound("ficha", f.ID)
	}
	if err != nil {
		return core.Ficha{}, fmt.Errorf("update ficha: %w", err)
	}
	return doc.ficha(), nil
}

func (s *Store) DeleteFicha(ctx context.Context, id string) error {
	oid, ok := objectID(id)
	if !ok {
		return nil
	}
	if _, err := s.fichas().DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return fmt.Errorf("delete ficha: %w", err)
	}
	return nil
}

func (s *Store) DeleteFichasByEmployee(ctx context.Context, employeeID string) (int, error) {
	res, err := s.fichas().DeleteMany(ctx, bson.M{"funcionario": employeeID})
	if err != nil {
		return 0, fmt.Errorf("delete fichas of employee: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) DeleteFichas(ctx context.Context, ids []string) (int, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, ok := objectID(id); ok {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return 0, nil
	}
	res, err := s.fichas().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return 0, fmt.Errorf("delete fichas: %w", err)
	}
	return int(res.DeletedCount), nil
}

// --- signing tokens

func (s *Store) SetSigningToken(ctx context.Context, fichaID, token string, expiresAt time.Time) error {
	oid, ok := objectID(fichaID)
	if !ok {
		return notFound("ficha", fichaID)
	}
	res, err := s.fichas().UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"assinaturaToken":         token,
		"assinaturaTokenExpiraEm": expiresAt.UTC(),
	}})
	if err != nil {
		return fmt.Errorf("set signing token: %w", err)
	}
	if res.MatchedCount == 0 {
		return notFound("ficha", fichaID)
	}
	return nil
}

func (s *Store) FindFichaBySigningToken(ctx context.Context, token string) (core.Ficha, error) {
	if token == "" {
		return core.Ficha{}, core.ErrNotFound
	}
	return s.findFicha(ctx, bson.M{"assinaturaToken": token})
}

func (s *Store) ClearSigningToken(ctx context.Context, fichaID, token string) error {
	oid, ok := objectID(fichaID)
	if !ok {
		return nil
	}
	_, err := s.fichas().UpdateOne(ctx,
		bson.M{"_id": oid, "assinaturaToken": token},
		bson.M{"$set": bson.M{"assinaturaToken": "", "assinaturaTokenExpiraEm": nil}})
	if err != nil {
		return fmt.Errorf("clear signing token: %w", err)
	}
	return nil
}

func (s *Store) ConsumeSigningToken(ctx context.Context, token, signature string, now time.Time) (core.Ficha, error) {
	if token == "" {
		return core.Ficha{}, core.ErrNotFound
	}
	var doc fichaDoc
	err := s.fichas().FindOneAndUpdate(ctx,
		bson.M{"assinaturaToken": token, "assinaturaTokenExpiraEm": bson.M{"$gt": now.UTC()}},
		bson.M{"$set": bson.M{
			"assinaturaFuncionario":   signature,
			"assinaturaToken":         "",
			"assinaturaTokenExpiraEm": nil,
			"assinadaEm":              now.UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Ficha{}, core.ErrNotFound
	}
	if err != nil {
		return core.Ficha{}, fmt.Errorf("consume signing token: %w", err)
	}
	return doc.ficha(), nil
}

// --- signing codes

func (s *Store) PutSigningCode(ctx context.Context, c core.SigningCode) error {
	c.ExpiresAt = c.ExpiresAt.UTC()
	_, err := s.db.Collection(collCodes).ReplaceOne(ctx, bson.M{"_id": c.Target}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put signing code: %w", err)
	}
	return nil
}

func (s *Store) GetSigningCode(ctx context.Context, target string) (core.SigningCode, error) {
	var c core.SigningCode
	err := s.db.Collection(collCodes).FindOne(ctx, bson.M{"_id": target}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.SigningCode{}, core.ErrNotFound
	}
	if err != nil {
		return core.SigningCode{}, fmt.Errorf("get signing code: %w", err)
	}
	c.ExpiresAt = c.ExpiresAt.UTC()
	return c, nil
}

func (s *Store) DeleteSigningCode(ctx context.Context, target, code string) (bool, error) {
	res, err := s.db.Collection(collCodes).DeleteOne(ctx, bson.M{"_id": target, "code": code})
	if err != nil {
		return false, fmt.Errorf("delete signing code: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// --- accounts

func (d accountDoc) account() core.Account {
	a := d.Account
	a.ID = d.ID.Hex()
	return a
}

func (s *Store) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	a.Email = core.NormalizeEmail(a.Email)
	a.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	doc := accountDoc{ID: primitive.NewObjectID(), Account: a}
	_, err := s.db.Collection(collAccounts).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return core.Account{}, core.ErrDuplicateEmail
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return doc.account(), nil
}

func (s *Store) findAccount(ctx context.Context, filter bson.M, key string) (core.Account, error) {
	var doc accountDoc
	err := s.db.Collection(collAccounts).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Account{}, notFound("account", key)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return doc.account(), nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (core.Account, error) {
	oid, ok := objectID(id)
	if !ok {
		return core.Account{}, notFound("account", id)
	}
	return s.findAccount(ctx, bson.M{"_id": oid}, id)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (core.Account, error) {
	return s.findAccount(ctx, bson.M{"email": core.NormalizeEmail(email)}, email)
}

func (s *Store) UpdateAccountRole(ctx context.Context, id string, role core.Role) error {
	oid, ok := objectID(id)
	if !ok {
		return notFound("account", id)
	}
	res, err := s.db.Collection(collAccounts).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"role": role}})
	if err != nil {
		return fmt.Errorf("update account role: %w", err)
	}
	if res.MatchedCount == 0 {
		return notFound("account", id)
	}
	return nil
}

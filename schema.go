package main

import (
	"strconv"
	"strings"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
)

// parseSchema reads "name:int,name:char(n)". The first column is marked primary.
func parseSchema(spec string) (*basic.Schema, error) {
	var fields []basic.Field
	for i, col := range strings.Split(spec, ",") {
		name, typ, ok := strings.Cut(strings.TrimSpace(col), ":")
		if !ok || name == "" {
			return nil, jerrors.NotValidf("column %q", col)
		}
		ft, err := parseFieldType(strings.ToLower(strings.TrimSpace(typ)))
		if err != nil {
			return nil, jerrors.Annotatef(err, "column %s", name)
		}
		fields = append(fields, basic.Field{Name: name, Type: ft, IsPrimary: i == 0})
	}
	return basic.NewSchema(fields...), nil
}

func parseFieldType(typ string) (basic.FieldType, error) {
	if typ == "int" {
		return basic.IntType(), nil
	}
	if strings.HasPrefix(typ, "char(") && strings.HasSuffix(typ, ")") {
		n, err := strconv.Atoi(typ[len("char(") : len(typ)-1])
		if err != nil || n <= 0 {
			return basic.FieldType{}, jerrors.NotValidf("char length %q", typ)
		}
		return basic.CharType(n), nil
	}
	return basic.FieldType{}, jerrors.NotSupportedf("type %q", typ)
}
